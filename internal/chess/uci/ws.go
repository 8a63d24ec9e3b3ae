package uci

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// HeaderProvider injects handshake headers (auth tokens and the like).
type HeaderProvider func() map[string]string

type WebSocketOptions struct {
	Headers      HeaderProvider
	DialTimeout  time.Duration
	PingInterval time.Duration
	Logger       *zap.Logger
}

// WebSocketChannel relays UCI lines to a remote engine. Each text frame
// carries one or more newline-separated lines in either direction.
type WebSocketChannel struct {
	conn   *websocket.Conn
	logger *zap.Logger

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	pingInterval time.Duration
}

func DialWebSocket(ctx context.Context, wsURL string, opt WebSocketOptions) (*WebSocketChannel, error) {
	if strings.TrimSpace(wsURL) == "" {
		return nil, fmt.Errorf("engine websocket url required")
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialTimeout := opt.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	pingInterval := opt.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      buildHeaders(opt.Headers),
	})
	if err != nil {
		return nil, fmt.Errorf("dial engine websocket: %w", err)
	}

	w := &WebSocketChannel{
		conn:         conn,
		logger:       logger,
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
	w.rootCtx, w.rootCancel = context.WithCancel(context.Background())

	w.wg.Add(2)
	go w.listen()
	go w.pingLoop()
	go func() {
		w.wg.Wait()
		close(w.events)
	}()
	return w, nil
}

// WebSocketDialer dials a new relay connection per call.
func WebSocketDialer(wsURL string, opt WebSocketOptions) Dialer {
	return func(ctx context.Context) (Channel, error) {
		return DialWebSocket(ctx, wsURL, opt)
	}
}

func (w *WebSocketChannel) Events() <-chan Event { return w.events }

func (w *WebSocketChannel) Send(cmd string) error {
	select {
	case <-w.done:
		return ErrChannelClosed
	default:
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(w.rootCtx, 5*time.Second)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageText, []byte(strings.TrimRight(cmd, "\r\n"))); err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

func (w *WebSocketChannel) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close(websocket.StatusNormalClosure, "close")
		w.rootCancel()
	})
	return err
}

func (w *WebSocketChannel) listen() {
	defer w.wg.Done()
	for {
		_, data, err := w.conn.Read(w.rootCtx)
		if err != nil {
			if w.isStopping() {
				return
			}
			w.logger.Warn("uci_ws_read_error", zap.Error(err))
			w.fail(err)
			return
		}
		for _, line := range strings.Split(string(data), "\n") {
			ev, ok := ParseLine(line)
			if !ok {
				continue
			}
			select {
			case w.events <- ev:
			case <-w.done:
				return
			}
		}
	}
}

func (w *WebSocketChannel) pingLoop() {
	defer w.wg.Done()
	t := time.NewTicker(w.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(w.rootCtx, 3*time.Second)
			err := w.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if w.isStopping() {
					return
				}
				w.logger.Warn("uci_ws_ping_failure", zap.Error(err))
				_ = w.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// fail reports the terminal error once and tears the connection down.
func (w *WebSocketChannel) fail(err error) {
	select {
	case w.events <- Event{Kind: EventClosed, Err: err}:
	case <-w.done:
	}
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.conn.Close(websocket.StatusGoingAway, "read failure")
		w.rootCancel()
	})
}

func (w *WebSocketChannel) isStopping() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func buildHeaders(h HeaderProvider) http.Header {
	hdr := http.Header{}
	if h == nil {
		return hdr
	}
	for k, v := range h() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
