package protocol

import (
	"encoding/json"
	"time"
)

// Inbound event types.
const (
	EventJoin             = "join"
	EventJoinChannel      = "join-channel"
	EventMessage          = "message"
	EventImage            = "image"
	EventFile             = "file"
	EventEditMessage      = "edit-message"
	EventDeleteMessage    = "delete-message"
	EventAddReaction      = "add-reaction"
	EventRemoveReaction   = "remove-reaction"
	EventTyping           = "typing"
	EventSetStatus        = "set-status"
	EventCreateChannel    = "create-channel"
	EventSetRole          = "set-role"
	EventKickUser         = "kick-user"
	EventMuteUser         = "mute-user"
	EventVoiceJoin        = "voice-join"
	EventVoiceLeave       = "voice-leave"
	EventVoiceSignal      = "voice-signal"
	EventVoiceMute        = "voice-mute"
	EventVoiceDeafen      = "voice-deafen"
	EventVoiceSpeaking    = "voice-speaking"
	EventScreenShareStart = "screen-share-start"
	EventScreenShareStop  = "screen-share-stop"
	EventForumCreateTopic = "forum-create-topic"
	EventForumReply       = "forum-reply"
	EventForumResolve     = "forum-resolve"
)

// Outbound event types.
const (
	EventHistory            = "history"
	EventChannels           = "channels"
	EventForumTopics        = "forum-topics"
	EventVoiceUsers         = "voice-users"
	EventUsers              = "users"
	EventMessageUpdated     = "message-updated"
	EventSystemMessage      = "system-message"
	EventKicked             = "kicked"
	EventMuted              = "muted"
	EventRoleUpdated        = "role-updated"
	EventVoiceUserJoined    = "voice-user-joined"
	EventVoiceUserLeft      = "voice-user-left"
	EventScreenShareStarted = "screen-share-started"
	EventScreenShareStopped = "screen-share-stopped"
)

// Message kinds stored in the history buffer.
const (
	MessageText   = "text"
	MessageImage  = "image"
	MessageFile   = "file"
	MessageSystem = "system"
	MessageBot    = "bot"
)

// Roles for the moderation hierarchy.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// RoleLevel returns a numeric level for comparison. Higher outranks lower.
func RoleLevel(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleModerator:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// ValidRole reports whether role is one of the assignable roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleModerator || role == RoleMember
}

// Event is the JSON envelope exchanged over the websocket in both directions.
type Event struct {
	Type string `json:"type"`

	Username     string `json:"username,omitempty"`
	Content      string `json:"content,omitempty"`
	ChannelID    string `json:"channelId,omitempty"`
	ChannelName  string `json:"channelName,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	ParentID     string `json:"parentId,omitempty"`
	Emoji        string `json:"emoji,omitempty"`
	IsTyping     bool   `json:"isTyping,omitempty"`
	Status       string `json:"status,omitempty"`
	CustomStatus string `json:"customStatus,omitempty"`

	// Moderation.
	TargetUsername string `json:"targetUsername,omitempty"`
	Role           string `json:"role,omitempty"`
	Minutes        int    `json:"minutes,omitempty"`   // mute-user: duration
	ExpiresAt      int64  `json:"expiresAt,omitempty"` // muted notice: Unix ms

	// Voice signaling.
	To       string          `json:"to,omitempty"`   // voice-signal: recipient connection id
	From     string          `json:"from,omitempty"` // voice-signal/voice-speaking: sender connection id
	Signal   json.RawMessage `json:"signal,omitempty"`
	Flag     bool            `json:"flag,omitempty"`     // voice-mute/voice-deafen
	Speaking bool            `json:"speaking,omitempty"` // voice-speaking
	StreamID string          `json:"streamId,omitempty"` // screen-share-start/-started

	// Forum.
	TopicID string   `json:"topicId,omitempty"`
	Title   string   `json:"title,omitempty"`
	Body    string   `json:"body,omitempty"`
	Tags    []string `json:"tags,omitempty"`

	// Attachments.
	File *FileInfo `json:"file,omitempty"`

	// Snapshots and broadcast payloads.
	SelfID     string       `json:"selfId,omitempty"` // history push: receiving session's id
	Message    *Message     `json:"message,omitempty"`
	Messages   []Message    `json:"messages,omitempty"`
	Users      []User       `json:"users,omitempty"`
	VoiceUsers []VoiceUser  `json:"voiceUsers,omitempty"`
	Channels   []string     `json:"channels,omitempty"`
	Topics     []ForumTopic `json:"topics,omitempty"`
}

// User is the roster snapshot for one connected session.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Color        string    `json:"color"`
	Role         string    `json:"role"`
	Status       string    `json:"status,omitempty"`
	CustomStatus string    `json:"customStatus,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Author is the sender snapshot embedded in a stored message. Role is the
// sender's role at send time, not a live reference.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Role     string `json:"role,omitempty"`
}

// FileInfo describes an uploaded file attached to a message.
type FileInfo struct {
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Mimetype     string `json:"mimetype"`
}

// Message is one entry in the shared bounded history buffer.
type Message struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Content   string              `json:"content"`
	File      *FileInfo           `json:"file,omitempty"`
	ChannelID string              `json:"channelId,omitempty"`
	ParentID  string              `json:"parentId,omitempty"`
	ReplyIDs  []string            `json:"replies,omitempty"`
	User      *Author             `json:"user,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Edited    bool                `json:"edited,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"` // emoji → usernames, never empty per emoji
}

// Clone returns a copy whose ReplyIDs slice and Reactions map are independent
// of the receiver. Snapshots and broadcast payloads are marshalled outside the
// owning lock, so they must never alias live buffer state.
func (m Message) Clone() Message {
	if m.ReplyIDs != nil {
		m.ReplyIDs = append([]string(nil), m.ReplyIDs...)
	}
	if m.Reactions != nil {
		reactions := make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			reactions[emoji] = append([]string(nil), users...)
		}
		m.Reactions = reactions
	}
	return m
}

// VoiceUser is one entry in the voice roster.
type VoiceUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color,omitempty"`
	Muted    bool   `json:"muted"`
	Deafened bool   `json:"deafened"`
}

// ForumReply is one reply under a forum topic.
type ForumReply struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	User      *Author   `json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ForumTopic is a long-lived discussion thread in the forum channel.
type ForumTopic struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	Tags      []string     `json:"tags,omitempty"`
	User      *Author      `json:"user,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	Resolved  bool         `json:"resolved"`
	Replies   []ForumReply `json:"replies"`
}
