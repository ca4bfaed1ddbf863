package core

import (
	"encoding/json"
	"log/slog"

	"localchat/server/internal/protocol"
)

// VoiceJoin adds a session to the voice roster. Every pre-existing member is
// notified individually so that each one initiates its own peer connection
// toward the newcomer — the mesh topology is realized client-side, one offer
// per existing peer. Joining twice is a no-op.
func (h *Hub) VoiceJoin(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, m := range h.voice {
		if m.id == sessionID {
			h.mu.Unlock()
			return
		}
	}
	peers := make([]string, 0, len(h.voice))
	for _, m := range h.voice {
		peers = append(peers, m.id)
	}
	h.voice = append(h.voice, &voiceMember{id: sessionID})
	newcomer := protocol.VoiceUser{ID: sessionID, Username: s.username, Color: s.color}
	roster := h.voiceLocked()
	h.mu.Unlock()

	slog.Info("voice joined", "session_id", sessionID, "username", newcomer.Username, "peers", len(peers))
	for _, id := range peers {
		h.SendTo(id, protocol.Event{Type: protocol.EventVoiceUserJoined, VoiceUsers: []protocol.VoiceUser{newcomer}, From: sessionID})
	}
	h.Broadcast(protocol.Event{Type: protocol.EventVoiceUsers, VoiceUsers: roster}, "")
}

// VoiceLeave removes a session from the roster and tells the remaining
// members to tear down their peer connections to it.
func (h *Hub) VoiceLeave(sessionID string) {
	h.mu.Lock()
	if !h.removeVoiceLocked(sessionID) {
		h.mu.Unlock()
		return
	}
	remaining := make([]string, 0, len(h.voice))
	for _, m := range h.voice {
		remaining = append(remaining, m.id)
	}
	roster := h.voiceLocked()
	h.mu.Unlock()

	slog.Info("voice left", "session_id", sessionID, "remaining", len(remaining))
	for _, id := range remaining {
		h.SendTo(id, protocol.Event{Type: protocol.EventVoiceUserLeft, From: sessionID})
	}
	h.Broadcast(protocol.Event{Type: protocol.EventVoiceUsers, VoiceUsers: roster}, "")
}

// RelaySignal forwards an opaque negotiation payload (offer, answer, or ICE
// candidate) to one recipient, tagged with the sender's id. The payload is
// never inspected. A missing recipient drops the signal silently.
func (h *Hub) RelaySignal(fromID, toID string, signal json.RawMessage) {
	h.mu.RLock()
	_, fromOK := h.sessions[fromID]
	h.mu.RUnlock()
	if !fromOK || toID == "" {
		return
	}
	h.SendTo(toID, protocol.Event{Type: protocol.EventVoiceSignal, From: fromID, Signal: signal})
}

// SetVoiceMuted updates a member's muted flag and broadcasts the roster.
func (h *Hub) SetVoiceMuted(sessionID string, muted bool) {
	h.mu.Lock()
	m := h.voiceMemberLocked(sessionID)
	if m == nil {
		h.mu.Unlock()
		return
	}
	m.muted = muted
	roster := h.voiceLocked()
	h.mu.Unlock()

	h.Broadcast(protocol.Event{Type: protocol.EventVoiceUsers, VoiceUsers: roster}, "")
}

// SetVoiceDeafened updates a member's deafened flag. Deafening forces the
// muted flag on: a participant who cannot hear must not be heard either.
func (h *Hub) SetVoiceDeafened(sessionID string, deafened bool) {
	h.mu.Lock()
	m := h.voiceMemberLocked(sessionID)
	if m == nil {
		h.mu.Unlock()
		return
	}
	m.deafened = deafened
	if deafened {
		m.muted = true
	}
	roster := h.voiceLocked()
	h.mu.Unlock()

	h.Broadcast(protocol.Event{Type: protocol.EventVoiceUsers, VoiceUsers: roster}, "")
}

// Speaking relays a speaking indicator to every connection, sender included,
// not just voice members. Nothing is stored; the event is pure fan-out.
func (h *Hub) Speaking(sessionID string, speaking bool) {
	h.mu.RLock()
	_, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.Broadcast(protocol.Event{Type: protocol.EventVoiceSpeaking, From: sessionID, Speaking: speaking}, "")
}

// ScreenShareStart claims the single global screen-share slot. A second
// starter while the slot is held is rejected silently.
func (h *Hub) ScreenShareStart(sessionID, streamID string) {
	h.mu.Lock()
	if h.screenBy != "" {
		h.mu.Unlock()
		return
	}
	if _, ok := h.sessions[sessionID]; !ok {
		h.mu.Unlock()
		return
	}
	h.screenBy = sessionID
	h.stream = streamID
	h.mu.Unlock()

	slog.Info("screen share started", "session_id", sessionID, "stream_id", streamID)
	h.Broadcast(protocol.Event{Type: protocol.EventScreenShareStarted, From: sessionID, StreamID: streamID}, "")
}

// ScreenShareStop releases the slot, but only for the current holder.
func (h *Hub) ScreenShareStop(sessionID string) {
	h.mu.Lock()
	if h.screenBy != sessionID {
		h.mu.Unlock()
		return
	}
	h.screenBy = ""
	h.stream = ""
	h.mu.Unlock()

	slog.Info("screen share stopped", "session_id", sessionID)
	h.Broadcast(protocol.Event{Type: protocol.EventScreenShareStopped, From: sessionID}, "")
}

// ScreenShareHolder returns the current lock holder, or "".
func (h *Hub) ScreenShareHolder() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.screenBy
}

// VoiceUsers returns the current roster snapshot.
func (h *Hub) VoiceUsers() []protocol.VoiceUser {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.voiceLocked()
}

func (h *Hub) voiceMemberLocked(sessionID string) *voiceMember {
	for _, m := range h.voice {
		if m.id == sessionID {
			return m
		}
	}
	return nil
}

func (h *Hub) removeVoiceLocked(sessionID string) bool {
	for i, m := range h.voice {
		if m.id == sessionID {
			h.voice = append(h.voice[:i], h.voice[i+1:]...)
			return true
		}
	}
	return false
}
