package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"parley/internal/telemetry"
)

// GatewayConfig tunes the session gateway. Zero values fall back to the
// package defaults in limits.go.
type GatewayConfig struct {
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration

	// OriginPatterns authorizes cross-origin upgrade requests
	// (host patterns, see websocket.AcceptOptions).
	OriginPatterns []string

	// InsecureSkipVerify disables origin verification entirely (dev only).
	InsecureSkipVerify bool
}

// Gateway upgrades /ws/{room_id}/{user_id} requests and runs the
// per-connection session loop.
//
// Session lifecycle: validate room and user against the store, register the
// connection and announce the join, relay inbound payloads until the
// transport terminates, then deregister and announce the leave. Validation
// failures are fatal for the session; malformed payloads are not.
type Gateway struct {
	log   *slog.Logger
	store Store
	reg   *Registry
	bc    *Broadcaster
	cfg   GatewayConfig
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, store Store, reg *Registry, bc *Broadcaster, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = defaultReadIdleTimeout
	}
	return &Gateway{log: log, store: store, reg: reg, bc: bc, cfg: cfg}
}

// ServeHTTP adapter so the gateway can be mounted as an http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the session until it closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	userID := r.PathValue("user_id")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.cfg.OriginPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "bye") }()

	ws.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Entry validation: absent room or user terminates the session with a
	// distinct close reason and the connection never reaches the registry.
	ok, err := g.store.RoomExists(ctx, roomID)
	if err != nil {
		g.log.Error("ws.validate.fail", "room_id", roomID, "err", err)
		_ = ws.Close(websocket.StatusInternalError, "store unavailable")
		return
	}
	if !ok {
		telemetry.SessionsRejected.WithLabelValues("room_not_found").Inc()
		_ = ws.Close(StatusNotFound, "room not found")
		return
	}

	ok, username, err := g.store.UserExists(ctx, userID)
	if err != nil {
		g.log.Error("ws.validate.fail", "user_id", userID, "err", err)
		_ = ws.Close(websocket.StatusInternalError, "store unavailable")
		return
	}
	if !ok {
		telemetry.SessionsRejected.WithLabelValues("user_not_found").Inc()
		_ = ws.Close(StatusNotFound, "user not found")
		return
	}

	if err := g.store.AddRoomMember(ctx, roomID, userID); err != nil {
		// Membership recording is best effort; the session proceeds.
		g.log.Info("ws.membership.record_fail", "room_id", roomID, "user_id", userID, "err", err)
	}

	conn := newConn(roomID, userID, username, ws, g.cfg.WriteTimeout)

	if displaced := g.reg.Register(conn); displaced != nil {
		g.log.Info("ws.superseded", "user_id", userID, "old_room_id", displaced.RoomID)
		displaced.markSuperseded()
		displaced.CloseWith(StatusSuperseded, "superseded by newer connection")
	}

	telemetry.ConnectionsTotal.Inc()
	telemetry.ConnectionsActive.Inc()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.reg.Deregister(conn)
			telemetry.ConnectionsActive.Dec()

			// Leave notice is best effort: the broadcaster prunes any peer
			// that fails, and there is nothing more to do on failure. A
			// superseded session announces nothing, the user is still here.
			if !conn.wasSuperseded() {
				g.bc.Broadcast(ctx, roomID, leaveNotice(username, time.Now().UTC()))
			}

			_ = ws.Close(code, reason)
			cancel()
		})
	}

	g.bc.Broadcast(ctx, roomID, joinNotice(username, time.Now().UTC()))
	g.log.Info("ws.session.start", "room_id", roomID, "user_id", userID)

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, ws, shutdown)
	}()

	g.relay(ctx, ws, conn, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}

	g.log.Info("ws.session.end", "room_id", roomID, "user_id", userID)
}

// relay is the Active-state receive loop. Malformed payloads produce an
// error notice to the sender only and the loop continues; transport
// termination or unrecoverable read errors end the session.
func (g *Gateway) relay(ctx context.Context, ws *websocket.Conn, conn *Conn, shutdown func(websocket.StatusCode, string)) {
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		typ, data, err := ws.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusGoingAway, "idle timeout")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "user_id", conn.UserID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		if typ != websocket.MessageText {
			g.sendError(ctx, conn, "unsupported frame type")
			continue
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			g.sendError(ctx, conn, "invalid JSON payload")
			continue
		}
		if in.Content == "" {
			g.sendError(ctx, conn, "missing required field: content")
			continue
		}
		if len([]rune(in.Content)) > maxContentChars {
			g.sendError(ctx, conn, "message too long")
			continue
		}

		now := time.Now().UTC()
		id, err := newID(now)
		if err != nil {
			g.sendError(ctx, conn, "failed to allocate message id")
			continue
		}

		msg := Message{
			ID:       id,
			RoomID:   conn.RoomID,
			UserID:   conn.UserID,
			Username: conn.Username,
			Content:  in.Content,
			SentAt:   now,
		}

		if err := g.store.AppendMessage(ctx, msg); err != nil {
			// Drop this one unit of work; the session continues.
			g.log.Error("ws.store.append_fail", "room_id", conn.RoomID, "err", err)
			g.sendError(ctx, conn, "message not stored")
			continue
		}

		g.bc.Broadcast(ctx, conn.RoomID, messageNotice(msg))
	}
}

// heartbeat pings the peer until the session ends; a run of failures closes
// the session so a dead transport cannot linger in the registry.
func (g *Gateway) heartbeat(ctx context.Context, ws *websocket.Conn, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := ws.Ping(hbCtx)
			hbCancel()

			if err != nil {
				misses++
				if misses >= maxHeartbeatMisses {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			misses = 0
		}
	}
}

// sendError delivers an error notice to one connection only. Failures are
// ignored: a broken transport surfaces in the read loop immediately after.
func (g *Gateway) sendError(ctx context.Context, conn *Conn, msg string) {
	payload, err := json.Marshal(errorNotice(msg))
	if err != nil {
		return
	}
	_ = conn.Send(ctx, payload)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
