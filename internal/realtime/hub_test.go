package realtime

import (
	"testing"

	"dispatch/internal/logger"
)

func TestHub_ChannelLifecycle(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewNop())
	a := NewSubscriber("a", "", 4)
	b := NewSubscriber("b", "", 4)

	hub.Join(a, "booking:1")
	hub.Join(b, "booking:1")
	if hub.ChannelCount() != 1 || hub.MemberCount("booking:1") != 2 {
		t.Fatalf("expected one channel with two members, got %d/%d", hub.ChannelCount(), hub.MemberCount("booking:1"))
	}

	hub.Leave(a, "booking:1")
	if hub.MemberCount("booking:1") != 1 {
		t.Errorf("expected one member left, got %d", hub.MemberCount("booking:1"))
	}

	hub.Leave(b, "booking:1")
	if hub.ChannelCount() != 0 {
		t.Errorf("expected channel to vanish with its last member, got %d channels", hub.ChannelCount())
	}
}

func TestHub_BroadcastOnlyReachesMembers(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewNop())
	member := NewSubscriber("m", "", 4)
	outsider := NewSubscriber("o", "", 4)
	hub.Join(member, "booking:1")
	hub.Join(outsider, "booking:2")

	if n := hub.Broadcast("booking:1", []byte("hi")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	select {
	case msg := <-member.Messages():
		if string(msg) != "hi" {
			t.Errorf("expected hi, got %s", msg)
		}
	default:
		t.Fatal("expected member to receive the message")
	}

	select {
	case msg := <-outsider.Messages():
		t.Errorf("outsider received %s", msg)
	default:
	}
}

func TestHub_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewNop())
	slow := NewSubscriber("slow", "", 1)
	fast := NewSubscriber("fast", "", 8)
	hub.Join(slow, "global")
	hub.Join(fast, "global")

	hub.Broadcast("global", []byte("1"))
	if n := hub.Broadcast("global", []byte("2")); n != 1 {
		t.Errorf("expected only the fast subscriber to receive the second message, got %d", n)
	}
	if len(fast.Messages()) != 2 {
		t.Errorf("expected fast subscriber to hold 2 messages, got %d", len(fast.Messages()))
	}
}

func TestHub_RemoveClosesQueueAndLeavesAll(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewNop())
	sub := NewSubscriber("s", "drv-1", 2)
	hub.Join(sub, "identity:drv-1")
	hub.Join(sub, "booking:1")

	hub.Remove(sub)

	if hub.ChannelCount() != 0 {
		t.Errorf("expected no channels after remove, got %d", hub.ChannelCount())
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected queue to be closed")
	}
	if hub.Send(sub, []byte("late")) {
		t.Error("expected send to a removed subscriber to fail")
	}

	// Removing twice must be harmless.
	hub.Remove(sub)

	hub.Join(sub, "global")
	if hub.ChannelCount() != 0 {
		t.Error("expected a removed subscriber not to rejoin")
	}
}
