package core

import (
	"log/slog"
	"strings"
	"time"

	"localchat/server/internal/protocol"
)

// SetRole changes the persisted role of every session with the target
// username. Only an admin may assign roles, and the last admin on record
// cannot demote themselves. Insufficient permission is a silent no-op.
func (h *Hub) SetRole(actorID, targetUsername, newRole string) {
	targetUsername = strings.TrimSpace(targetUsername)
	if targetUsername == "" || !protocol.ValidRole(newRole) {
		return
	}

	h.mu.RLock()
	actor, ok := h.sessions[actorID]
	var actorName string
	isAdmin := false
	if ok {
		actorName = actor.username
		isAdmin = actor.role == protocol.RoleAdmin
	}
	h.mu.RUnlock()
	if !isAdmin {
		return
	}

	// Sole-admin guard: the role map must never lose its last admin.
	if actorName == targetUsername && newRole != protocol.RoleAdmin {
		n, err := h.st.AdminCount()
		if err != nil {
			slog.Error("count admins", "err", err)
			return
		}
		if n <= 1 {
			slog.Warn("sole admin self-demotion rejected", "username", actorName)
			return
		}
	}

	// Persist: the default role is represented by absence.
	var err error
	if newRole == protocol.RoleMember {
		err = h.st.DeleteRole(targetUsername)
	} else {
		err = h.st.SetRole(targetUsername, newRole)
	}
	if err != nil {
		slog.Error("persist role", "username", targetUsername, "role", newRole, "err", err)
	}

	h.mu.Lock()
	var notified []string
	for id, s := range h.sessions {
		if s.username == targetUsername {
			s.role = newRole
			notified = append(notified, id)
		}
	}
	users := h.usersLocked()
	h.mu.Unlock()

	slog.Info("role updated", "target", targetUsername, "role", newRole, "by", actorName, "live_sessions", len(notified))
	for _, id := range notified {
		h.SendTo(id, protocol.Event{Type: protocol.EventRoleUpdated, Role: newRole})
	}
	h.Broadcast(protocol.Event{Type: protocol.EventUsers, Users: users}, "")
}

// Kick disconnects every session with the target username. Admins and
// moderators may kick, but a moderator cannot kick an admin or another
// moderator (judged by the target's persisted role).
func (h *Hub) Kick(actorID, targetUsername string) {
	targetUsername = strings.TrimSpace(targetUsername)
	if targetUsername == "" {
		return
	}
	actorName, ok := h.authorizeModeration(actorID, targetUsername)
	if !ok {
		return
	}

	h.mu.RLock()
	var targets []string
	for id, s := range h.sessions {
		if s.username == targetUsername {
			targets = append(targets, id)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	slog.Info("user kicked", "target", targetUsername, "by", actorName, "sessions", len(targets))
	for _, id := range targets {
		h.SendTo(id, protocol.Event{Type: protocol.EventKicked})
		// Closing the send channel makes the transport drain the notice and
		// drop the connection, which triggers the ordered cleanup.
		h.closeSend(id)
	}
	h.Broadcast(protocol.Event{Type: protocol.EventSystemMessage, Content: targetUsername + " was kicked"}, "")
}

// Mute records a time-boxed mute for the target username. The record is held
// in memory only and checked lazily on the next send attempt.
func (h *Hub) Mute(actorID, targetUsername string, minutes int) {
	targetUsername = strings.TrimSpace(targetUsername)
	if targetUsername == "" || minutes <= 0 {
		return
	}
	actorName, ok := h.authorizeModeration(actorID, targetUsername)
	if !ok {
		return
	}

	expiry := time.Now().Add(time.Duration(minutes) * time.Minute)

	h.mu.Lock()
	h.mutes[targetUsername] = expiry
	var targets []string
	for id, s := range h.sessions {
		if s.username == targetUsername {
			targets = append(targets, id)
		}
	}
	h.mu.Unlock()

	slog.Info("user muted", "target", targetUsername, "by", actorName, "minutes", minutes)
	for _, id := range targets {
		h.SendTo(id, protocol.Event{
			Type:      protocol.EventMuted,
			Minutes:   minutes,
			ExpiresAt: expiry.UnixMilli(),
		})
	}
}

// authorizeModeration applies the shared kick/mute hierarchy rule: the actor
// must be admin or moderator, and a moderator may only act on members.
func (h *Hub) authorizeModeration(actorID, targetUsername string) (string, bool) {
	h.mu.RLock()
	actor, ok := h.sessions[actorID]
	var actorName, actorRole string
	if ok {
		actorName = actor.username
		actorRole = actor.role
	}
	h.mu.RUnlock()
	if !ok || protocol.RoleLevel(actorRole) < protocol.RoleLevel(protocol.RoleModerator) {
		return "", false
	}

	if actorRole == protocol.RoleModerator {
		targetRole, err := h.st.Role(targetUsername)
		if err != nil {
			slog.Error("load target role", "username", targetUsername, "err", err)
			return "", false
		}
		if protocol.RoleLevel(targetRole) >= protocol.RoleLevel(protocol.RoleModerator) {
			return "", false
		}
	}
	return actorName, true
}

// MutedUntil reports the active mute expiry for a username, if any. Expired
// records are left in place for the send path to clean up lazily.
func (h *Hub) MutedUntil(username string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	expiry, ok := h.mutes[username]
	if !ok || time.Now().After(expiry) {
		return time.Time{}, false
	}
	return expiry, true
}
