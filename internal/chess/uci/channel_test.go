package uci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeReplies scripts a minimal engine.
func fakeReplies(line string) []string {
	line = strings.TrimSpace(line)
	switch {
	case line == "uci":
		return []string{"id name fake", "uciok"}
	case line == "isready":
		return []string{"readyok"}
	case strings.HasPrefix(line, "go"):
		return []string{
			"info depth 3 score cp 25 nodes 100 nps 1000 pv e2e4 e7e5",
			"bestmove e2e4 ponder e7e5",
		}
	default:
		return nil
	}
}

func runFakeEngine(r io.Reader, w io.Writer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "quit" {
			return
		}
		for _, out := range fakeReplies(sc.Text()) {
			fmt.Fprintln(w, out)
		}
	}
}

// TestMain doubles as the fake engine binary for the process channel.
func TestMain(m *testing.M) {
	if os.Getenv("ARENA_FAKE_ENGINE") == "1" {
		runFakeEngine(os.Stdin, os.Stdout)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func nextEvent(t *testing.T, ch Channel, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func exerciseChannel(t *testing.T, ch Channel) {
	t.Helper()
	if err := ch.Send("uci"); err != nil {
		t.Fatalf("send uci: %v", err)
	}
	nextEvent(t, ch, EventUCIOk)
	if err := ch.Send("isready"); err != nil {
		t.Fatalf("send isready: %v", err)
	}
	nextEvent(t, ch, EventReady)
	if err := ch.Send("go depth 3"); err != nil {
		t.Fatalf("send go: %v", err)
	}
	info := nextEvent(t, ch, EventInfo)
	if info.Info.ScoreCP == nil || *info.Info.ScoreCP != 25 {
		t.Fatalf("unexpected info: %+v", info.Info)
	}
	best := nextEvent(t, ch, EventBestMove)
	if best.BestMove != "e2e4" {
		t.Fatalf("unexpected bestmove %q", best.BestMove)
	}
}

func TestProcessChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewProcessChannel(ctx, os.Args[0], ProcessOptions{
		Env: []string{"ARENA_FAKE_ENGINE=1"},
	})
	if err != nil {
		t.Fatalf("NewProcessChannel: %v", err)
	}
	exerciseChannel(t, ch)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Send("isready"); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed after close, got %v", err)
	}
}

func TestProcessChannelOutlivesDialContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	ch, err := ProcessDialer(os.Args[0], ProcessOptions{
		Env: []string{"ARENA_FAKE_ENGINE=1"},
	})(ctx)
	cancel()
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })

	time.Sleep(200 * time.Millisecond)
	exerciseChannel(t, ch)
}

func TestProcessChannelCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProcessChannel(ctx, os.Args[0], ProcessOptions{Env: []string{"ARENA_FAKE_ENGINE=1"}}); err == nil {
		t.Fatalf("started engine with a cancelled context")
	}
}

func TestWebSocketChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Engine-Token") != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			replies := fakeReplies(string(data))
			if len(replies) == 0 {
				continue
			}
			if err := c.Write(ctx, websocket.MessageText, []byte(strings.Join(replies, "\n"))); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ch, err := DialWebSocket(context.Background(), wsURL, WebSocketOptions{
		Headers: func() map[string]string { return map[string]string{"X-Engine-Token": "secret"} },
	})
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	exerciseChannel(t, ch)
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWebSocketChannelReportsServerClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusInternalError, "engine crashed")
	}))
	defer srv.Close()

	ch, err := DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), WebSocketOptions{})
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer ch.Close()
	ev := nextEvent(t, ch, EventClosed)
	if ev.Err == nil {
		t.Fatalf("expected close error")
	}
}
