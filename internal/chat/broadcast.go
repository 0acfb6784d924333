package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"

	"parley/internal/telemetry"
)

// Broadcaster fans a payload out to every live connection in a room.
//
// Delivery order within a room is snapshot order (registration order). A
// failing connection never aborts delivery to the rest: failures are
// collected during the pass and pruned afterwards.
type Broadcaster struct {
	log *slog.Logger
	reg *Registry
}

// NewBroadcaster constructs a Broadcaster over reg.
func NewBroadcaster(log *slog.Logger, reg *Registry) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log, reg: reg}
}

// Broadcast delivers notice to every connection in roomID's snapshot.
// Cancellation of the originating session must not abort delivery to
// siblings, so sends run under a detached context (each still bounded by the
// per-connection write timeout).
func (b *Broadcaster) Broadcast(ctx context.Context, roomID string, notice Notice) {
	payload, err := json.Marshal(notice)
	if err != nil {
		b.log.Error("broadcast.marshal.fail", "room_id", roomID, "err", err)
		return
	}

	sendCtx := context.WithoutCancel(ctx)

	var failed []*Conn
	for _, c := range b.reg.Snapshot(roomID) {
		if err := c.Send(sendCtx, payload); err != nil {
			b.log.Info("broadcast.send_fail",
				"room_id", roomID,
				"user_id", c.UserID,
				"err", err,
			)
			failed = append(failed, c)
		}
	}

	telemetry.MessagesBroadcast.Inc()

	for _, c := range failed {
		telemetry.BroadcastSendFailures.Inc()
		b.reg.Deregister(c)
		c.CloseWith(websocket.StatusAbnormalClosure, "send failed")
	}
}
