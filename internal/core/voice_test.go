package core

import (
	"encoding/json"
	"testing"

	"localchat/server/internal/protocol"
)

func TestVoiceJoinNotifiesEachExistingPeer(t *testing.T) {
	h := newTestHub(t)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	charlie := join(t, h, "charlie")

	h.VoiceJoin(alice.ID)
	h.VoiceJoin(bob.ID)
	drainAll(alice.Send, bob.Send, charlie.Send)

	h.VoiceJoin(charlie.ID)

	// Each pre-existing member gets exactly one targeted notification so it
	// can open its own peer connection toward the newcomer.
	for _, peer := range []*Session{alice, bob} {
		joined := assertRecvType(t, peer.Send, protocol.EventVoiceUserJoined)
		if joined.From != charlie.ID || len(joined.VoiceUsers) != 1 || joined.VoiceUsers[0].Username != "charlie" {
			t.Fatalf("unexpected join notification: %#v", joined)
		}
		roster := assertRecvType(t, peer.Send, protocol.EventVoiceUsers)
		if len(roster.VoiceUsers) != 3 {
			t.Fatalf("expected roster of 3, got %d", len(roster.VoiceUsers))
		}
		assertNoRecvType(t, peer.Send, protocol.EventVoiceUserJoined)
	}

	// The newcomer gets the roster only, never a notification about itself.
	assertRecvType(t, charlie.Send, protocol.EventVoiceUsers)
	assertNoRecvType(t, charlie.Send, protocol.EventVoiceUserJoined)
}

func TestVoiceJoinTwiceIsNoop(t *testing.T) {
	h := newTestHub(t)
	alice := join(t, h, "alice")
	h.VoiceJoin(alice.ID)
	drain(alice.Send)

	h.VoiceJoin(alice.ID)
	assertNoRecvType(t, alice.Send, protocol.EventVoiceUsers)

	if got := h.VoiceUsers(); len(got) != 1 {
		t.Fatalf("expected single roster entry, got %d", len(got))
	}
}

func TestVoiceLeaveTearsDownPeers(t *testing.T) {
	h := newTestHub(t)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	h.VoiceJoin(alice.ID)
	h.VoiceJoin(bob.ID)
	drainAll(alice.Send, bob.Send)

	h.VoiceLeave(bob.ID)

	left := assertRecvType(t, alice.Send, protocol.EventVoiceUserLeft)
	if left.From != bob.ID {
		t.Fatalf("unexpected leaver: %q", left.From)
	}
	roster := assertRecvType(t, alice.Send, protocol.EventVoiceUsers)
	if len(roster.VoiceUsers) != 1 || roster.VoiceUsers[0].ID != alice.ID {
		t.Fatalf("unexpected roster: %#v", roster.VoiceUsers)
	}

	// Leaving twice changes nothing.
	h.VoiceLeave(bob.ID)
	assertNoRecvType(t, alice.Send, protocol.EventVoiceUsers)
}

func TestRelaySignalReachesOnlyRecipient(t *testing.T) {
	h := newTestHub(t)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	charlie := join(t, h, "charlie")
	drainAll(alice.Send, bob.Send, charlie.Send)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	h.RelaySignal(alice.ID, bob.ID, payload)

	got := waitFor(t, bob.Send, protocol.EventVoiceSignal)
	if got.From != alice.ID {
		t.Fatalf("expected signal from %q, got %q", alice.ID, got.From)
	}
	if string(got.Signal) != string(payload) {
		t.Fatalf("payload altered in transit: %s", got.Signal)
	}
	assertNoRecvType(t, charlie.Send, protocol.EventVoiceSignal)

	// Unknown recipient or unregistered sender: dropped silently.
	h.RelaySignal(alice.ID, "u999", payload)
	h.RelaySignal("ghost", bob.ID, payload)
	assertNoRecvType(t, bob.Send, protocol.EventVoiceSignal)
}

func TestDeafenForcesMute(t *testing.T) {
	h := newTestHub(t)
	alice := join(t, h, "alice")
	h.VoiceJoin(alice.ID)
	drain(alice.Send)

	h.SetVoiceDeafened(alice.ID, true)
	roster := waitFor(t, alice.Send, protocol.EventVoiceUsers)
	if !roster.VoiceUsers[0].Deafened || !roster.VoiceUsers[0].Muted {
		t.Fatalf("deafen must imply mute: %#v", roster.VoiceUsers[0])
	}

	// Undeafening does not unmute.
	h.SetVoiceDeafened(alice.ID, false)
	roster = waitFor(t, alice.Send, protocol.EventVoiceUsers)
	if roster.VoiceUsers[0].Deafened || !roster.VoiceUsers[0].Muted {
		t.Fatalf("expected still muted after undeafen: %#v", roster.VoiceUsers[0])
	}

	h.SetVoiceMuted(alice.ID, false)
	roster = waitFor(t, alice.Send, protocol.EventVoiceUsers)
	if roster.VoiceUsers[0].Muted {
		t.Fatalf("expected unmuted: %#v", roster.VoiceUsers[0])
	}
}

func TestSpeakingReachesEveryConnection(t *testing.T) {
	h := newTestHub(t)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	charlie := join(t, h, "charlie")

	h.VoiceJoin(alice.ID)
	h.JoinChannel(charlie.ID, "random")
	drainAll(alice.Send, bob.Send, charlie.Send)

	h.Speaking(alice.ID, true)

	// Speaking is global: the sender, sessions outside voice, and sessions
	// outside the sender's channel all see it.
	for _, peer := range []*Session{alice, bob, charlie} {
		got := waitFor(t, peer.Send, protocol.EventVoiceSpeaking)
		if got.From != alice.ID || !got.Speaking {
			t.Fatalf("unexpected speaking event: %#v", got)
		}
	}
}

func TestScreenShareLockIsExclusive(t *testing.T) {
	h := newTestHub(t)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	drainAll(alice.Send, bob.Send)

	h.ScreenShareStart(alice.ID, "stream-a")
	started := waitFor(t, bob.Send, protocol.EventScreenShareStarted)
	if started.From != alice.ID || started.StreamID != "stream-a" {
		t.Fatalf("unexpected start event: %#v", started)
	}

	// Second starter is rejected while the slot is held.
	h.ScreenShareStart(bob.ID, "stream-b")
	assertNoRecvType(t, alice.Send, protocol.EventScreenShareStarted)
	if h.ScreenShareHolder() != alice.ID {
		t.Fatalf("expected holder %q, got %q", alice.ID, h.ScreenShareHolder())
	}

	// Only the holder can release.
	h.ScreenShareStop(bob.ID)
	if h.ScreenShareHolder() != alice.ID {
		t.Fatal("non-holder stop must not release the lock")
	}

	h.ScreenShareStop(alice.ID)
	stopped := waitFor(t, bob.Send, protocol.EventScreenShareStopped)
	if stopped.From != alice.ID {
		t.Fatalf("unexpected stop event: %#v", stopped)
	}

	h.ScreenShareStart(bob.ID, "stream-b")
	started = waitFor(t, alice.Send, protocol.EventScreenShareStarted)
	if started.From != bob.ID || started.StreamID != "stream-b" {
		t.Fatalf("unexpected start event after release: %#v", started)
	}
}
