package core

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"localchat/server/internal/protocol"
)

// SendText appends a text message from a live session.
func (h *Hub) SendText(sessionID, content, parentID, channelID string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	h.sendUserMessage(sessionID, protocol.MessageText, content, nil, parentID, channelID)
}

// SendImage appends an image message referencing an uploaded URL.
func (h *Hub) SendImage(sessionID, imageURL, channelID string) {
	if strings.TrimSpace(imageURL) == "" {
		return
	}
	h.sendUserMessage(sessionID, protocol.MessageImage, imageURL, nil, "", channelID)
}

// SendFile appends a file message carrying an upload descriptor.
func (h *Hub) SendFile(sessionID string, file *protocol.FileInfo, channelID string) {
	if file == nil || file.URL == "" {
		return
	}
	h.sendUserMessage(sessionID, protocol.MessageFile, file.OriginalName, file, "", channelID)
}

// sendUserMessage is the shared append path for user-originated messages.
// Mute enforcement happens here and only here: an unexpired mute yields a
// private notice, an expired one is deleted on discovery.
func (h *Hub) sendUserMessage(sessionID, msgType, content string, file *protocol.FileInfo, parentID, channelID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}

	if expiry, muted := h.mutes[s.username]; muted {
		if time.Now().Before(expiry) {
			h.mu.Unlock()
			h.SendTo(sessionID, protocol.Event{
				Type:      protocol.EventMuted,
				ExpiresAt: expiry.UnixMilli(),
			})
			slog.Debug("message rejected, sender muted", "username", s.username, "expires", expiry)
			return
		}
		delete(h.mutes, s.username)
	}

	channelID = normalizeChannelID(strings.TrimSpace(channelID))
	if channelID == "" {
		channelID = s.channel
	}

	msg := protocol.Message{
		ID:        newID(),
		Type:      msgType,
		Content:   content,
		File:      file,
		ChannelID: channelID,
		ParentID:  parentID,
		User:      h.authorLocked(s),
		Timestamp: time.Now(),
	}

	// Thread linking: if the parent is still in the buffer, record the reply
	// and re-broadcast the parent. If it was evicted, the reply stays orphaned.
	var parentCopy *protocol.Message
	if parentID != "" {
		if i := h.indexOfLocked(parentID); i >= 0 {
			h.messages[i].ReplyIDs = append(h.messages[i].ReplyIDs, msg.ID)
			cp := h.messages[i].Clone()
			parentCopy = &cp
		}
	}

	h.pushLocked(msg)
	snapshot := h.historyLocked()
	h.mu.Unlock()

	h.persistHistory(snapshot)
	if parentCopy != nil {
		h.Broadcast(protocol.Event{Type: protocol.EventMessageUpdated, Message: parentCopy}, "")
	}
	h.BroadcastToChannel(channelID, protocol.Event{Type: protocol.EventMessage, Message: &msg}, "")
}

// AppendBot appends a bot-typed message synthesized outside any session
// (webhook ingestion). Bots are not subject to mutes.
func (h *Hub) AppendBot(username, content, channelID string) protocol.Message {
	if strings.TrimSpace(channelID) == "" {
		channelID = DefaultChannel
	}
	msg := protocol.Message{
		ID:        newID(),
		Type:      protocol.MessageBot,
		Content:   content,
		ChannelID: channelID,
		User:      &protocol.Author{Username: username, Color: palette[0]},
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	h.pushLocked(msg)
	snapshot := h.historyLocked()
	h.mu.Unlock()

	h.persistHistory(snapshot)
	h.BroadcastToChannel(channelID, protocol.Event{Type: protocol.EventMessage, Message: &msg}, "")
	return msg
}

// systemMessage stores a system message and broadcasts it to everyone
// regardless of channel subscription.
func (h *Hub) systemMessage(content string) {
	msg := protocol.Message{
		ID:        newID(),
		Type:      protocol.MessageSystem,
		Content:   content,
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	h.pushLocked(msg)
	snapshot := h.historyLocked()
	h.mu.Unlock()

	h.persistHistory(snapshot)
	h.Broadcast(protocol.Event{Type: protocol.EventMessage, Message: &msg}, "")
}

// EditMessage rewrites a text message's content. Only the original author may
// edit, and only plain text messages. The updated message is broadcast to
// everyone so clients in other channels reconcile too.
func (h *Hub) EditMessage(sessionID, messageID, newContent string) {
	if strings.TrimSpace(newContent) == "" {
		return
	}

	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	i := h.indexOfLocked(messageID)
	if i < 0 || h.messages[i].Type != protocol.MessageText {
		h.mu.Unlock()
		return
	}
	if h.messages[i].User == nil || h.messages[i].User.Username != s.username {
		h.mu.Unlock()
		return
	}
	h.messages[i].Content = newContent
	h.messages[i].Edited = true
	updated := h.messages[i].Clone()
	snapshot := h.historyLocked()
	h.mu.Unlock()

	h.persistHistory(snapshot)
	h.Broadcast(protocol.Event{Type: protocol.EventMessageUpdated, Message: &updated}, "")
}

// DeleteMessage removes a message. Allowed for the author and for moderators
// and admins. The entire remaining history is re-broadcast rather than a
// delta, so clients can never end up with partial state.
func (h *Hub) DeleteMessage(sessionID, messageID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	i := h.indexOfLocked(messageID)
	if i < 0 {
		h.mu.Unlock()
		return
	}
	m := h.messages[i]
	isAuthor := m.User != nil && m.User.Username == s.username
	if !isAuthor && protocol.RoleLevel(s.role) < protocol.RoleLevel(protocol.RoleModerator) {
		h.mu.Unlock()
		return
	}
	h.messages = append(h.messages[:i], h.messages[i+1:]...)
	snapshot := h.historyLocked()
	h.mu.Unlock()

	slog.Info("message deleted", "message_id", messageID, "by", s.username)
	h.persistHistory(snapshot)
	h.Broadcast(protocol.Event{Type: protocol.EventHistory, Messages: snapshot}, "")
}

// AddReaction records username under emoji on a message. Idempotent: reacting
// twice with the same emoji is a single entry.
func (h *Hub) AddReaction(sessionID, messageID, emoji string) {
	if emoji == "" {
		return
	}

	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	i := h.indexOfLocked(messageID)
	if i < 0 {
		h.mu.Unlock()
		return
	}
	if h.messages[i].Reactions == nil {
		h.messages[i].Reactions = make(map[string][]string)
	}
	for _, u := range h.messages[i].Reactions[emoji] {
		if u == s.username {
			h.mu.Unlock()
			return
		}
	}
	h.messages[i].Reactions[emoji] = append(h.messages[i].Reactions[emoji], s.username)
	updated := h.messages[i].Clone()
	snapshot := h.historyLocked()
	h.mu.Unlock()

	h.persistHistory(snapshot)
	h.Broadcast(protocol.Event{Type: protocol.EventMessageUpdated, Message: &updated}, "")
}

// RemoveReaction removes username from emoji's set. Removing the last user
// deletes the emoji entry entirely: an empty set is never kept.
func (h *Hub) RemoveReaction(sessionID, messageID, emoji string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	i := h.indexOfLocked(messageID)
	if i < 0 || h.messages[i].Reactions == nil {
		h.mu.Unlock()
		return
	}
	users := h.messages[i].Reactions[emoji]
	kept := users[:0]
	for _, u := range users {
		if u != s.username {
			kept = append(kept, u)
		}
	}
	if len(kept) == len(users) {
		h.mu.Unlock()
		return
	}
	if len(kept) == 0 {
		delete(h.messages[i].Reactions, emoji)
		if len(h.messages[i].Reactions) == 0 {
			h.messages[i].Reactions = nil
		}
	} else {
		h.messages[i].Reactions[emoji] = kept
	}
	updated := h.messages[i].Clone()
	snapshot := h.historyLocked()
	h.mu.Unlock()

	h.persistHistory(snapshot)
	h.Broadcast(protocol.Event{Type: protocol.EventMessageUpdated, Message: &updated}, "")
}

// Export returns a copy of the full message buffer.
func (h *Hub) Export() []protocol.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.historyLocked()
}

// Import validates and wholesale-replaces the message buffer, keeping at most
// the last MaxHistory entries, then pushes the new history to everyone.
func (h *Hub) Import(msgs []protocol.Message) error {
	for i, m := range msgs {
		switch {
		case m.ID == "":
			return fmt.Errorf("message %d: missing id", i)
		case m.Type == "":
			return fmt.Errorf("message %d: missing type", i)
		case m.Content == "" && m.File == nil:
			return fmt.Errorf("message %d: missing content", i)
		case m.Timestamp.IsZero():
			return fmt.Errorf("message %d: missing timestamp", i)
		}
	}
	if len(msgs) > MaxHistory {
		msgs = msgs[len(msgs)-MaxHistory:]
	}

	h.mu.Lock()
	h.messages = make([]protocol.Message, len(msgs))
	for i := range msgs {
		h.messages[i] = msgs[i].Clone()
	}
	snapshot := h.historyLocked()
	h.mu.Unlock()

	slog.Info("history imported", "messages", len(snapshot))
	h.persistHistory(snapshot)
	h.Broadcast(protocol.Event{Type: protocol.EventHistory, Messages: snapshot}, "")
	return nil
}

// indexOfLocked returns the buffer index of a message id, or -1.
func (h *Hub) indexOfLocked(messageID string) int {
	for i := range h.messages {
		if h.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// pushLocked appends to the buffer, evicting the oldest entry past capacity.
func (h *Hub) pushLocked(msg protocol.Message) {
	h.messages = append(h.messages, msg)
	if len(h.messages) > MaxHistory {
		h.messages = h.messages[1:]
	}
}

// persistHistory saves the buffer snapshot. Durability is best-effort:
// failures are logged, never surfaced to a client.
func (h *Hub) persistHistory(snapshot []protocol.Message) {
	if err := h.st.SaveHistory(snapshot); err != nil {
		slog.Error("persist history", "err", err)
	}
}
