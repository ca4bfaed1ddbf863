package core

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"localchat/server/internal/protocol"
	"localchat/server/internal/store"
)

// SendTimeout bounds how long a write to one subscriber may block.
const SendTimeout = 50 * time.Millisecond

// MaxHistory is the capacity of the shared message buffer. It is global:
// oldest messages are evicted regardless of channel.
const MaxHistory = 500

// MaxChannelName is the maximum length of a created channel name.
const MaxChannelName = 20

// Built-in channels, always present and never persisted.
const (
	DefaultChannel = "general"
	ForumChannel   = "forum"
)

// palette is the fixed set of presence colors assigned to joining sessions.
var palette = []string{
	"#EF4444", "#F97316", "#F59E0B", "#EAB308", "#84CC16",
	"#22C55E", "#10B981", "#14B8A6", "#06B6D4", "#0EA5E9",
	"#3B82F6", "#6366F1", "#8B5CF6", "#A855F7", "#D946EF",
	"#EC4899", "#F43F5E",
}

// Session is the transport-facing handle for one connected websocket session.
type Session struct {
	ID   string
	Send chan protocol.Event
}

type session struct {
	id           string
	username     string
	color        string
	role         string
	status       string
	customStatus string
	joinedAt     time.Time
	channel      string // current broadcast subscription
	send         chan protocol.Event
	closed       bool
}

type voiceMember struct {
	id       string
	muted    bool
	deafened bool
}

// Hub is the authoritative in-memory state shared by every event handler:
// live sessions, the bounded message buffer, channels, forum topics, the
// transient mute map, the voice roster, and the screen-share lock. All state
// lives behind one mutex; mutations happen under it, broadcasts after it.
type Hub struct {
	mu     sync.RWMutex
	st     *store.Store
	nextID atomic.Uint64

	sessions map[string]*session
	messages []protocol.Message
	channels []string // includes the built-ins, extras in creation order
	topics   []protocol.ForumTopic
	mutes    map[string]time.Time // username → expiry, checked lazily
	voice    []*voiceMember       // join order
	screenBy string               // screen-share lock holder, "" when free
	stream   string
}

// NewHub builds a hub around the durable store, restoring the persisted
// message buffer, channel list, and forum topics.
func NewHub(st *store.Store) (*Hub, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	h := &Hub{
		st:       st,
		sessions: make(map[string]*session),
		channels: []string{DefaultChannel, ForumChannel},
		mutes:    make(map[string]time.Time),
	}

	extra, err := st.Channels()
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	h.channels = append(h.channels, extra...)

	if h.messages, err = st.LoadHistory(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(h.messages) > MaxHistory {
		h.messages = h.messages[len(h.messages)-MaxHistory:]
	}
	if h.topics, err = st.LoadTopics(); err != nil {
		return nil, fmt.Errorf("load forum topics: %w", err)
	}

	slog.Info("hub restored", "messages", len(h.messages), "channels", len(h.channels), "topics", len(h.topics))
	return h, nil
}

// DMChannelID derives the implicit direct-message channel id for a pair of
// usernames. The id is deterministic: both participants derive the same one.
func DMChannelID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// normalizeChannelID canonicalizes direct-message ids so both participants
// subscribe under the same channel no matter which order the client named
// the pair in. Ordinary channel ids pass through unchanged.
func normalizeChannelID(channelID string) string {
	rest, ok := strings.CutPrefix(channelID, "dm:")
	if !ok {
		return channelID
	}
	a, b, ok := strings.Cut(rest, ":")
	if !ok {
		return channelID
	}
	return DMChannelID(a, b)
}

// Join registers a new session. The joiner becomes admin if no admin has ever
// been assigned; otherwise their persisted role applies. The joiner alone
// receives the full state snapshot, everyone gets the updated roster, and a
// global system message announces the join.
func (h *Hub) Join(username string, sendBuf int) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if sendBuf <= 0 {
		sendBuf = 64
	}

	role := protocol.RoleMember
	if n, err := h.st.AdminCount(); err != nil {
		slog.Error("resolve role", "username", username, "err", err)
	} else if n == 0 {
		// Bootstrap: the very first user to ever join becomes admin.
		role = protocol.RoleAdmin
		if err := h.st.SetRole(username, role); err != nil {
			slog.Error("persist bootstrap admin", "username", username, "err", err)
		}
	} else if role, err = h.st.Role(username); err != nil {
		slog.Error("load role", "username", username, "err", err)
		role = protocol.RoleMember
	}

	num := h.nextID.Add(1)
	s := &session{
		id:       fmt.Sprintf("u%d", num),
		username: username,
		color:    palette[int(num-1)%len(palette)],
		role:     role,
		joinedAt: time.Now(),
		channel:  DefaultChannel,
		send:     make(chan protocol.Event, sendBuf),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	history := h.historyLocked()
	channels := h.channelsLocked()
	topics := h.topicsLocked()
	voice := h.voiceLocked()
	users := h.usersLocked()
	count := len(h.sessions)
	h.mu.Unlock()

	slog.Info("user joined", "session_id", s.id, "username", username, "role", role, "total_users", count)

	sess := &Session{ID: s.id, Send: s.send}
	h.SendTo(s.id, protocol.Event{Type: protocol.EventHistory, SelfID: s.id, Messages: history})
	h.SendTo(s.id, protocol.Event{Type: protocol.EventChannels, Channels: channels})
	h.SendTo(s.id, protocol.Event{Type: protocol.EventForumTopics, Topics: topics})
	h.SendTo(s.id, protocol.Event{Type: protocol.EventVoiceUsers, VoiceUsers: voice})
	h.Broadcast(protocol.Event{Type: protocol.EventUsers, Users: users}, "")

	h.systemMessage(username + " joined the chat")
	return sess, nil
}

// Disconnect runs the ordered cleanup for a closing connection: screen-share
// lock first, then voice roster, then the session itself, then the global
// leave announcement. Later steps broadcast state already updated by earlier
// ones, so the order is load-bearing.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	username := s.username
	h.mu.Unlock()

	// 1. Screen-share lock.
	h.mu.Lock()
	released := h.screenBy == sessionID
	if released {
		h.screenBy = ""
		h.stream = ""
	}
	h.mu.Unlock()
	if released {
		h.Broadcast(protocol.Event{Type: protocol.EventScreenShareStopped, From: sessionID}, "")
	}

	// 2. Voice roster.
	h.mu.Lock()
	inVoice := h.removeVoiceLocked(sessionID)
	var remaining []string
	var roster []protocol.VoiceUser
	if inVoice {
		for _, m := range h.voice {
			remaining = append(remaining, m.id)
		}
		roster = h.voiceLocked()
	}
	h.mu.Unlock()
	if inVoice {
		for _, id := range remaining {
			h.SendTo(id, protocol.Event{Type: protocol.EventVoiceUserLeft, From: sessionID})
		}
		h.Broadcast(protocol.Event{Type: protocol.EventVoiceUsers, VoiceUsers: roster}, "")
	}

	// 3. Session registry.
	h.mu.Lock()
	delete(h.sessions, sessionID)
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	users := h.usersLocked()
	count := len(h.sessions)
	h.mu.Unlock()
	h.Broadcast(protocol.Event{Type: protocol.EventUsers, Users: users}, "")

	slog.Info("user left", "session_id", sessionID, "username", username, "remaining_users", count)

	// 4. Leave announcement.
	h.systemMessage(username + " left the chat")
}

// JoinChannel switches a session's single broadcast subscription. The
// previous channel is left implicitly.
func (h *Hub) JoinChannel(sessionID, channelID string) {
	channelID = normalizeChannelID(strings.TrimSpace(channelID))
	if channelID == "" {
		return
	}
	h.mu.Lock()
	if s, ok := h.sessions[sessionID]; ok {
		s.channel = channelID
		slog.Debug("channel switched", "session_id", sessionID, "channel", channelID)
	}
	h.mu.Unlock()
}

// SetStatus updates a session's presence and broadcasts the full roster.
func (h *Hub) SetStatus(sessionID, status, customStatus string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	s.status = status
	s.customStatus = customStatus
	users := h.usersLocked()
	h.mu.Unlock()

	h.Broadcast(protocol.Event{Type: protocol.EventUsers, Users: users}, "")
}

// CreateChannel validates and persists a new named channel, then announces it.
func (h *Hub) CreateChannel(sessionID, name string) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxChannelName {
		return
	}

	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, existing := range h.channels {
		if existing == name {
			h.mu.Unlock()
			return
		}
	}
	h.channels = append(h.channels, name)
	channels := h.channelsLocked()
	username := s.username
	h.mu.Unlock()

	if err := h.st.CreateChannel(name); err != nil {
		slog.Error("persist channel", "name", name, "err", err)
	}
	slog.Info("channel created", "name", name, "by", username)

	h.Broadcast(protocol.Event{Type: protocol.EventChannels, Channels: channels}, "")
	h.systemMessage(username + " created channel #" + name)
}

// Typing relays a typing indicator to the other current subscribers of the
// channel. Nothing is stored and no timeout is applied server-side.
func (h *Hub) Typing(sessionID, channelID string, isTyping bool) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	channelID = normalizeChannelID(strings.TrimSpace(channelID))
	if channelID == "" {
		channelID = s.channel
	}
	username := s.username
	h.mu.RUnlock()

	h.BroadcastToChannel(channelID, protocol.Event{
		Type:      protocol.EventTyping,
		Username:  username,
		ChannelID: channelID,
		IsTyping:  isTyping,
	}, sessionID)
}

// ClientCount returns the number of live sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Users returns a stable ordered roster snapshot.
func (h *Hub) Users() []protocol.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.usersLocked()
}

// Channels returns the current channel list.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelsLocked()
}

// ---------------------------------------------------------------------------
// Locked snapshot helpers
// ---------------------------------------------------------------------------

func (h *Hub) usersLocked() []protocol.User {
	out := make([]protocol.User, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, protocol.User{
			ID:           s.id,
			Username:     s.username,
			Color:        s.color,
			Role:         s.role,
			Status:       s.status,
			CustomStatus: s.customStatus,
			JoinedAt:     s.joinedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) historyLocked() []protocol.Message {
	out := make([]protocol.Message, len(h.messages))
	for i := range h.messages {
		out[i] = h.messages[i].Clone()
	}
	return out
}

func (h *Hub) channelsLocked() []string {
	out := make([]string, len(h.channels))
	copy(out, h.channels)
	return out
}

func (h *Hub) topicsLocked() []protocol.ForumTopic {
	out := make([]protocol.ForumTopic, len(h.topics))
	copy(out, h.topics)
	return out
}

func (h *Hub) voiceLocked() []protocol.VoiceUser {
	out := make([]protocol.VoiceUser, 0, len(h.voice))
	for _, m := range h.voice {
		vu := protocol.VoiceUser{ID: m.id, Muted: m.muted, Deafened: m.deafened}
		if s, ok := h.sessions[m.id]; ok {
			vu.Username = s.username
			vu.Color = s.color
		}
		out = append(out, vu)
	}
	return out
}

func (h *Hub) authorLocked(s *session) *protocol.Author {
	return &protocol.Author{ID: s.id, Username: s.username, Color: s.color, Role: s.role}
}

// ---------------------------------------------------------------------------
// Broadcast plumbing
// ---------------------------------------------------------------------------

// Broadcast sends an event to every session except exceptID.
func (h *Hub) Broadcast(ev protocol.Event, exceptID string) {
	h.mu.RLock()
	targets := make([]chan protocol.Event, 0, len(h.sessions))
	for id, s := range h.sessions {
		if exceptID != "" && id == exceptID {
			continue
		}
		targets = append(targets, s.send)
	}
	h.mu.RUnlock()

	sent := 0
	for _, ch := range targets {
		if trySend(ch, ev) {
			sent++
		}
	}
	slog.Debug("broadcast", "type", ev.Type, "recipients", sent, "total", len(targets))
}

// BroadcastToChannel sends an event to the sessions currently subscribed to
// channelID.
func (h *Hub) BroadcastToChannel(channelID string, ev protocol.Event, exceptID string) {
	if channelID == "" {
		h.Broadcast(ev, exceptID)
		return
	}

	h.mu.RLock()
	targets := make([]chan protocol.Event, 0, len(h.sessions))
	for id, s := range h.sessions {
		if exceptID != "" && id == exceptID {
			continue
		}
		if s.channel != channelID {
			continue
		}
		targets = append(targets, s.send)
	}
	h.mu.RUnlock()

	sent := 0
	for _, ch := range targets {
		if trySend(ch, ev) {
			sent++
		}
	}
	slog.Debug("broadcast_to_channel", "type", ev.Type, "channel", channelID, "recipients", sent)
}

// SendTo sends one event to one session.
func (h *Hub) SendTo(sessionID string, ev protocol.Event) bool {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return trySend(s.send, ev)
}

// closeSend closes a session's send channel exactly once. The transport's
// writer goroutine drains the remaining events and closes the connection,
// which in turn triggers the ordered Disconnect cleanup.
func (h *Hub) closeSend(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok && !s.closed {
		s.closed = true
		close(s.send)
	}
}

func trySend(ch chan protocol.Event, ev protocol.Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case ch <- ev:
		return true
	case <-time.After(SendTimeout):
		slog.Debug("trySend timeout", "type", ev.Type)
		return false
	}
}

func newID() string {
	return uuid.NewString()
}
