// Package main provides a CI-friendly end-to-end smoke test for a running inbox server.
//
// It validates:
//   - two viewers can connect to /ws
//   - POST /webhook stores the message and returns its id
//   - both viewers receive the new_message event for that id
//   - GET /messages/{phone} returns it and resets the unread count
//   - DELETE /conversations/{phone} removes the thread
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "inbox/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type viewer struct {
	name string
	conn *websocket.Conn

	events chan v1.Event
	errCh  chan error
}

type conversationItem struct {
	Phone       string `json:"phone"`
	LastMessage string `json:"lastMessage"`
	UnreadCount int64  `json:"unreadCount"`
}

type messageItem struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	IsFromBot bool   `json:"isFromBot"`
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "Server base URL (http or https)")
		origin  = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
		phone   = flag.String("phone", "", "Contact phone (default: a unique +1555 number)")
		name    = flag.String("name", "Smoke", "Sender name")
		text    = flag.String("text", "hola inbox 👋", "Message text")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	if *phone == "" {
		*phone = fmt.Sprintf("+1555%07d", time.Now().UnixNano()%10_000_000)
	}

	root := context.Background()
	client := &http.Client{Timeout: *timeout}
	wsURL := wsURLFor(base) + "/ws"

	a := mustConnect(root, "A", wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, "B", wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A and B to %s (origin=%q)\n", wsURL, *origin)
	}

	id := mustPostWebhook(client, base, *phone, *name, *text)
	if *verbose {
		fmt.Printf("webhook accepted: id=%s phone=%s\n", id, *phone)
	}

	for _, v := range []*viewer{a, b} {
		got := v.mustReadMessage(root, *timeout)
		if got.ID != id || got.Phone != *phone || got.Name != *name || got.Message != *text || got.IsFromBot {
			fatalf("viewer %s: unexpected event data: %+v", v.name, got)
		}
	}

	conv, ok := mustFindConversation(client, base, *phone)
	if !ok {
		fatalf("conversation %s not listed", *phone)
	}
	if conv.UnreadCount < 1 || conv.LastMessage != *text {
		fatalf("conversation summary mismatch: %+v", conv)
	}

	msgs := mustGetMessages(client, base, *phone, 50)
	if len(msgs) == 0 || msgs[len(msgs)-1].ID != id {
		fatalf("GET /messages: newest message should be %s, got %+v", id, msgs)
	}

	conv, _ = mustFindConversation(client, base, *phone)
	if conv.UnreadCount != 0 {
		fatalf("unread should be 0 after reading, got %d", conv.UnreadCount)
	}

	mustDeleteThread(client, base, *phone)

	if _, ok := mustFindConversation(client, base, *phone); ok {
		fatalf("conversation %s still listed after delete", *phone)
	}
	if left := mustGetMessages(client, base, *phone, 50); len(left) != 0 {
		fatalf("messages left after delete: %d", len(left))
	}

	fmt.Printf("OK: phone=%s id=%s viewers=2\n", *phone, id)
}

func validateBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

func wsURLFor(base string) string {
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *viewer {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	v := &viewer{
		name:   name,
		conn:   conn,
		events: make(chan v1.Event, 64),
		errCh:  make(chan error, 1),
	}
	v.startReadLoop()
	return v
}

func (v *viewer) startReadLoop() {
	fail := func(err error) {
		select {
		case v.errCh <- err:
		default:
		}
	}

	go func() {
		defer close(v.events)

		for {
			mt, data, err := v.conn.Read(context.Background())
			if err != nil {
				fail(err)
				return
			}
			if mt != websocket.MessageText {
				fail(fmt.Errorf("unexpected message type: %v", mt))
				return
			}

			var ev v1.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := ev.Validate(); err != nil {
				fail(fmt.Errorf("bad event: %w", err))
				return
			}

			select {
			case v.events <- ev:
			default:
				fail(errors.New("event buffer overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (v *viewer) mustReadMessage(parent context.Context, stepTimeout time.Duration) v1.MessageData {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %s (%s): %v", v1.TypeNewMessage, v.name, ctx.Err())
	case err := <-v.errCh:
		fatalf("connection error while waiting for %s (%s): %v", v1.TypeNewMessage, v.name, err)
	case ev, ok := <-v.events:
		if !ok {
			fatalf("connection closed while waiting for %s (%s)", v1.TypeNewMessage, v.name)
		}
		data, err := ev.DecodeMessage()
		if err != nil {
			fatalf("decode event (%s): %v", v.name, err)
		}
		return data
	}
	panic("unreachable")
}

func mustPostWebhook(client *http.Client, base, phone, name, text string) string {
	body, err := json.Marshal(map[string]string{"phone": phone, "name": name, "message": text})
	if err != nil {
		fatalf("marshal webhook: %v", err)
	}

	var out struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	mustDo(client, http.MethodPost, base+"/webhook", body, http.StatusCreated, &out)
	if out.Status != "success" || out.ID == "" {
		fatalf("webhook response: %+v", out)
	}
	return out.ID
}

func mustFindConversation(client *http.Client, base, phone string) (conversationItem, bool) {
	var out struct {
		Conversations []conversationItem `json:"conversations"`
	}
	mustDo(client, http.MethodGet, base+"/conversations", nil, http.StatusOK, &out)
	for _, c := range out.Conversations {
		if c.Phone == phone {
			return c, true
		}
	}
	return conversationItem{}, false
}

func mustGetMessages(client *http.Client, base, phone string, limit int) []messageItem {
	var out struct {
		Messages []messageItem `json:"messages"`
	}
	u := fmt.Sprintf("%s/messages/%s?limit=%d", base, url.PathEscape(phone), limit)
	mustDo(client, http.MethodGet, u, nil, http.StatusOK, &out)
	return out.Messages
}

func mustDeleteThread(client *http.Client, base, phone string) {
	var out struct {
		Status string `json:"status"`
	}
	mustDo(client, http.MethodDelete, base+"/conversations/"+url.PathEscape(phone), nil, http.StatusOK, &out)
	if out.Status != "success" {
		fatalf("delete response: %+v", out)
	}
}

func mustDo(client *http.Client, method, u string, body []byte, wantStatus int, dst any) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fatalf("%s %s: %v", method, u, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, u, resp.StatusCode, wantStatus, strings.TrimSpace(string(raw)))
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			fatalf("%s %s: decode: %v", method, u, err)
		}
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
