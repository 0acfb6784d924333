package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestBroadcastDeliversToAllMembers(t *testing.T) {
	reg := NewRegistry(nil)
	bc := NewBroadcaster(nil, reg)

	a, pa := fakeConn("r1", "u1")
	b, pb := fakeConn("r1", "u2")
	reg.Register(a)
	reg.Register(b)

	bc.Broadcast(context.Background(), "r1", Notice{Type: TypeMessage, Content: "hi"})

	for name, p := range map[string]*fakePipe{"a": pa, "b": pb} {
		frames := p.received()
		if len(frames) != 1 {
			t.Fatalf("%s received %d frames, want 1", name, len(frames))
		}
		var n Notice
		if err := json.Unmarshal(frames[0], &n); err != nil {
			t.Fatalf("%s payload not JSON: %v", name, err)
		}
		if n.Content != "hi" {
			t.Fatalf("%s content = %q, want hi", name, n.Content)
		}
	}
}

func TestBroadcastPrunesFailingConnection(t *testing.T) {
	reg := NewRegistry(nil)
	bc := NewBroadcaster(nil, reg)

	a, pa := fakeConn("r1", "u1")
	b, pb := fakeConn("r1", "u2")
	c, pc := fakeConn("r1", "u3")
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)

	pb.fail = true

	bc.Broadcast(context.Background(), "r1", Notice{Type: TypeMessage, Content: "hi"})

	// Siblings each got exactly one copy despite b failing mid-pass.
	if got := len(pa.received()); got != 1 {
		t.Fatalf("a received %d frames, want 1", got)
	}
	if got := len(pc.received()); got != 1 {
		t.Fatalf("c received %d frames, want 1", got)
	}

	// b was pruned and closed.
	snap := reg.Snapshot("r1")
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2 after pruning", len(snap))
	}
	for _, conn := range snap {
		if conn == b {
			t.Fatalf("failed connection must not survive in the snapshot")
		}
	}
	if !pb.closed {
		t.Fatalf("pruned connection must be closed")
	}
}

func TestBroadcastIgnoresCallerCancellation(t *testing.T) {
	reg := NewRegistry(nil)
	bc := NewBroadcaster(nil, reg)

	a, pa := fakeConn("r1", "u1")
	reg.Register(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bc.Broadcast(ctx, "r1", leaveNotice("u2", time.Now().UTC()))

	if got := len(pa.received()); got != 1 {
		t.Fatalf("delivery must survive the originating session's cancellation, got %d frames", got)
	}
}

func TestBroadcastEmptyRoomIsNoop(t *testing.T) {
	reg := NewRegistry(nil)
	bc := NewBroadcaster(nil, reg)
	bc.Broadcast(context.Background(), "empty", Notice{Type: TypeMessage}) // must not panic
}
