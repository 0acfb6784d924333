// Package main provides a CI-friendly smoke test for the parley relay.
//
// It validates:
//   - room and user provisioning over the REST API
//   - handshake on /ws/{room_id}/{user_id}
//   - join notices fanned out to every room member
//   - send -> message notice to both sender and peer
//   - malformed payload -> error notice to the sender only
//   - disconnect -> user_left notice to the remaining peer
//   - message history via GET /api/rooms/{room_id}/messages
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20

type notice struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan notice
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		roomName = flag.String("room", fmt.Sprintf("smoke-%d", time.Now().UnixNano()), "Room name to create")
		text     = flag.String("text", "hello parley", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	roomID := mustCreate(root, *baseURL, "/api/rooms", map[string]string{"name": *roomName}, *timeout)
	aliceID := mustCreate(root, *baseURL, "/api/users", map[string]string{"username": "smoke-alice"}, *timeout)
	bobID := mustCreate(root, *baseURL, "/api/users", map[string]string{"username": "smoke-bob"}, *timeout)

	if *verbose {
		fmt.Printf("provisioned: room=%s alice=%s bob=%s\n", roomID, aliceID, bobID)
	}

	a := mustConnect(root, "A", *baseURL, roomID, aliceID, *timeout)
	defer closeWS(a.conn)
	a.mustReadType(root, "user_joined", *timeout)

	b := mustConnect(root, "B", *baseURL, roomID, bobID, *timeout)
	defer closeWS(b.conn)
	b.mustReadType(root, "user_joined", *timeout)
	a.mustReadType(root, "user_joined", *timeout)

	// Malformed payload: error notice to the sender, nothing to the peer.
	mustWrite(root, a.conn, []byte(`{}`), *timeout)
	a.mustReadType(root, "error", *timeout)
	b.mustAssertNoType(root, "error", 750*time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"content": *text})
	mustWrite(root, a.conn, payload, *timeout)

	sent := a.mustReadType(root, "message", *timeout)
	assertMessage(a.name, sent, aliceID, *text)
	echo := b.mustReadType(root, "message", *timeout)
	assertMessage(b.name, echo, aliceID, *text)
	if sent.ID != echo.ID {
		fatalf("message id mismatch: sender=%q peer=%q", sent.ID, echo.ID)
	}

	closeWS(a.conn)
	b.mustReadType(root, "user_left", *timeout)

	mustHistoryContains(root, *baseURL, roomID, sent.ID, *text, *timeout)

	fmt.Printf("OK: room_id=%s msg_id=%s\n", roomID, sent.ID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustCreate(parent context.Context, baseURL, path string, body map[string]string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal %s body: %v", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		fatalf("build %s request: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		fatalf("POST %s: status=%d", path, resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode %s response: %v", path, err)
	}
	if strings.TrimSpace(out.ID) == "" {
		fatalf("POST %s: missing id in response", path)
	}
	return out.ID
}

func mustConnect(parent context.Context, name, baseURL, roomID, userID string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/" + roomID + "/" + userID
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan notice, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var n notice
			if err := json.Unmarshal(data, &n); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- n:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadType(parent context.Context, wantType string, stepTimeout time.Duration) notice {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case n, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if n.Type == wantType {
				return n
			}
			if n.Type == "error" {
				fatalf("server error (%s): %q", c.name, n.Message)
			}
			fatalf("unexpected notice type (%s): got=%q want=%q", c.name, n.Type, wantType)
		}
	}
}

func (c *smokeClient) mustAssertNoType(parent context.Context, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case n, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if n.Type == forbiddenType {
				fatalf("unexpected %s received (%s): %q", forbiddenType, c.name, n.Message)
			}
		}
	}
}

func assertMessage(name string, n notice, wantUserID, wantText string) {
	if n.UserID != wantUserID {
		fatalf("message user_id mismatch (%s): got=%q want=%q", name, n.UserID, wantUserID)
	}
	if n.Content != wantText {
		fatalf("message content mismatch (%s): got=%q want=%q", name, n.Content, wantText)
	}
	if strings.TrimSpace(n.ID) == "" {
		fatalf("message missing id (%s)", name)
	}
	if n.Timestamp.IsZero() {
		fatalf("message timestamp missing/zero (%s)", name)
	}
}

func mustHistoryContains(parent context.Context, baseURL, roomID, msgID, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/rooms/"+roomID+"/messages", nil)
	if err != nil {
		fatalf("build history request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalf("GET history: status=%d", resp.StatusCode)
	}

	var msgs []struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		fatalf("decode history: %v", err)
	}

	for _, m := range msgs {
		if m.ID == msgID && m.Content == text {
			return
		}
	}
	fatalf("history missing expected message id=%s", msgID)
}

func mustWrite(parent context.Context, conn *websocket.Conn, payload []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
