package core

import (
	"log/slog"
	"strings"
	"time"

	"localchat/server/internal/protocol"
)

// CreateTopic starts a forum thread and pushes the full topic list to
// everyone.
func (h *Hub) CreateTopic(sessionID, title, body string, tags []string) {
	title = strings.TrimSpace(title)
	if title == "" || strings.TrimSpace(body) == "" {
		return
	}

	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	topic := protocol.ForumTopic{
		ID:        newID(),
		Title:     title,
		Body:      body,
		Tags:      tags,
		User:      h.authorLocked(s),
		CreatedAt: time.Now(),
		Replies:   []protocol.ForumReply{},
	}
	h.topics = append(h.topics, topic)
	topics := h.topicsLocked()
	h.mu.Unlock()

	slog.Info("forum topic created", "topic_id", topic.ID, "title", title, "by", topic.User.Username)
	h.persistTopics(topics)
	h.Broadcast(protocol.Event{Type: protocol.EventForumTopics, Topics: topics}, "")
}

// ReplyTopic appends a reply to a topic. A missing topic is a no-op.
func (h *Hub) ReplyTopic(sessionID, topicID, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}

	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	i := h.topicIndexLocked(topicID)
	if i < 0 {
		h.mu.Unlock()
		return
	}
	h.topics[i].Replies = append(h.topics[i].Replies, protocol.ForumReply{
		ID:        newID(),
		Body:      body,
		User:      h.authorLocked(s),
		CreatedAt: time.Now(),
	})
	topics := h.topicsLocked()
	h.mu.Unlock()

	h.persistTopics(topics)
	h.Broadcast(protocol.Event{Type: protocol.EventForumTopics, Topics: topics}, "")
}

// ResolveTopic marks a topic resolved. Allowed for the topic author and for
// moderators and admins.
func (h *Hub) ResolveTopic(sessionID, topicID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	i := h.topicIndexLocked(topicID)
	if i < 0 {
		h.mu.Unlock()
		return
	}
	t := h.topics[i]
	isAuthor := t.User != nil && t.User.Username == s.username
	if !isAuthor && protocol.RoleLevel(s.role) < protocol.RoleLevel(protocol.RoleModerator) {
		h.mu.Unlock()
		return
	}
	h.topics[i].Resolved = true
	topics := h.topicsLocked()
	h.mu.Unlock()

	slog.Info("forum topic resolved", "topic_id", topicID, "by", s.username)
	h.persistTopics(topics)
	h.Broadcast(protocol.Event{Type: protocol.EventForumTopics, Topics: topics}, "")
}

// Topics returns the current topic list snapshot.
func (h *Hub) Topics() []protocol.ForumTopic {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.topicsLocked()
}

func (h *Hub) topicIndexLocked(topicID string) int {
	for i := range h.topics {
		if h.topics[i].ID == topicID {
			return i
		}
	}
	return -1
}

func (h *Hub) persistTopics(topics []protocol.ForumTopic) {
	if err := h.st.SaveTopics(topics); err != nil {
		slog.Error("persist forum topics", "err", err)
	}
}
