package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/chess"
	"github.com/park285/Cheese-Arena/internal/chess/uci"
)

var (
	ErrNotReady     = errors.New("analysis engine not ready")
	ErrEngineFailed = errors.New("analysis engine failed")
	ErrClosed       = errors.New("analysis coordinator closed")
)

// Listener receives coordinator notifications. Calls are made without
// the coordinator lock held.
type Listener interface {
	OnEvaluation(Evaluation)
	OnReady()
	OnFailure(error)
}

type Options struct {
	Logger           *zap.Logger
	Engine           uci.Options
	HandshakeTimeout time.Duration
}

// ticket correlates one "go" with the "bestmove" that ends it. Engines
// answer searches in order, so outstanding tickets form a FIFO.
type ticket struct {
	id         uint64
	fen        string
	req        *Request
	superseded bool
}

// Coordinator serializes analysis and best-move searches over a single
// UCI channel.
type Coordinator struct {
	dial    uci.Dialer
	opts    Options
	logger  *zap.Logger
	startMu sync.Mutex

	mu       sync.Mutex
	ch       uci.Channel
	gen      uint64
	ready    bool
	closed   bool
	nextID   uint64
	pending  []*ticket
	eval     Evaluation
	listener Listener
}

func NewCoordinator(dial uci.Dialer, opts Options) (*Coordinator, error) {
	if dial == nil {
		return nil, fmt.Errorf("uci dialer required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Coordinator{dial: dial, opts: opts, logger: logger}, nil
}

func (c *Coordinator) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// Start opens a channel and runs the uci/isready handshake. Calling it
// again tears the previous channel down first.
func (c *Coordinator) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.detachLocked(ErrEngineFailed)
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	ch, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrEngineFailed, err)
	}
	if err := c.handshake(ctx, ch); err != nil {
		_ = ch.Close()
		c.logger.Warn("analysis_engine_handshake_failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ch.Close()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.ch = ch
	c.ready = true
	c.eval = Evaluation{}
	listener := c.listener
	c.mu.Unlock()

	go c.readLoop(gen, ch)
	c.logger.Info("analysis_engine_ready")
	if listener != nil {
		listener.OnReady()
	}
	return nil
}

func (c *Coordinator) handshake(ctx context.Context, ch uci.Channel) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	if err := ch.Send("uci"); err != nil {
		return err
	}
	if err := awaitKind(ctx, ch, uci.EventUCIOk); err != nil {
		return fmt.Errorf("await uciok: %w", err)
	}
	for _, cmd := range uci.OptionCommands(c.opts.Engine) {
		if err := ch.Send(cmd); err != nil {
			return err
		}
	}
	if err := ch.Send("isready"); err != nil {
		return err
	}
	if err := awaitKind(ctx, ch, uci.EventReady); err != nil {
		return fmt.Errorf("await readyok: %w", err)
	}
	return nil
}

func awaitKind(ctx context.Context, ch uci.Channel, kind uci.EventKind) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch.Events():
			if !ok {
				return uci.ErrChannelClosed
			}
			switch ev.Kind {
			case kind:
				return nil
			case uci.EventClosed:
				if ev.Err != nil {
					return ev.Err
				}
				return uci.ErrChannelClosed
			case uci.EventError:
				return fmt.Errorf("engine error: %s", ev.Message)
			}
		}
	}
}

func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Evaluation returns a copy of the current evaluation.
func (c *Coordinator) Evaluation() Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eval.Clone()
}

// Analyze starts a background evaluation of fen, replacing any search
// in flight.
func (c *Coordinator) Analyze(fen string) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.eval = Evaluation{FEN: fen}
	err := c.searchLocked(fen, nil, chess.AnalysisGoCommand())
	return c.finishSend(err)
}

// RequestBestMove asks for a move at the given difficulty. The returned
// request always settles: with a move, as stale, or with an error.
func (c *Coordinator) RequestBestMove(fen string, difficulty int) *Request {
	difficulty = chess.ClampDifficulty(difficulty)

	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		req := NewRequest(0, fen, difficulty)
		req.resolve(Result{Err: ErrNotReady})
		return req
	}
	goCmd, err := chess.FormatGoCommand(chess.PresetFor(difficulty))
	if err != nil {
		c.mu.Unlock()
		req := NewRequest(0, fen, difficulty)
		req.resolve(Result{Err: err})
		return req
	}
	req := NewRequest(c.nextID+1, fen, difficulty)
	err = c.searchLocked(fen, req, goCmd)
	_ = c.finishSend(err)
	return req
}

// Stop halts the current search. Outstanding tickets become stale.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return nil
	}
	err := c.stopLocked()
	return c.finishSend(err)
}

// NewGame clears engine-side state between games.
func (c *Coordinator) NewGame() error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.eval = Evaluation{}
	err := c.stopLocked()
	if err == nil {
		err = c.ch.Send("ucinewgame")
	}
	if err == nil {
		err = c.ch.Send("isready")
	}
	return c.finishSend(err)
}

func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ch := c.detachLocked(ErrClosed)
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// searchLocked issues stop, position and go, in that order, and queues a
// ticket for the new search. It must be called with mu held.
func (c *Coordinator) searchLocked(fen string, req *Request, goCmd string) error {
	err := c.stopLocked()
	if err == nil {
		err = c.ch.Send(uci.BuildPositionCommand(fen, nil))
	}
	if err == nil {
		c.nextID++
		err = c.ch.Send(goCmd)
	}
	if err != nil {
		if req != nil {
			req.resolve(Result{Err: fmt.Errorf("%w: %v", ErrEngineFailed, err)})
		}
		return err
	}
	c.pending = append(c.pending, &ticket{id: c.nextID, fen: fen, req: req})
	return nil
}

func (c *Coordinator) stopLocked() error {
	for _, t := range c.pending {
		if t.superseded {
			continue
		}
		t.superseded = true
		if t.req != nil {
			t.req.resolve(Result{Stale: true})
		}
	}
	return c.ch.Send("stop")
}

// finishSend releases mu and turns a send failure into an engine failure.
func (c *Coordinator) finishSend(err error) error {
	if err == nil {
		c.mu.Unlock()
		return nil
	}
	failure := fmt.Errorf("%w: %v", ErrEngineFailed, err)
	ch := c.detachLocked(ErrEngineFailed)
	listener := c.listener
	c.mu.Unlock()
	c.reportFailure(listener, ch, failure)
	return failure
}

// detachLocked marks the engine unavailable, fails every outstanding
// request and returns the channel for the caller to close outside mu.
func (c *Coordinator) detachLocked(cause error) uci.Channel {
	ch := c.ch
	c.ch = nil
	c.ready = false
	c.gen++
	for _, t := range c.pending {
		if t.req != nil {
			t.req.resolve(Result{Err: cause})
		}
	}
	c.pending = nil
	return ch
}

func (c *Coordinator) reportFailure(listener Listener, ch uci.Channel, err error) {
	c.logger.Warn("analysis_engine_failure", zap.Error(err))
	if ch != nil {
		go func() { _ = ch.Close() }()
	}
	if listener != nil {
		listener.OnFailure(err)
	}
}

func (c *Coordinator) readLoop(gen uint64, ch uci.Channel) {
	for ev := range ch.Events() {
		if !c.handle(gen, ev) {
			return
		}
	}
	c.fail(gen, uci.ErrChannelClosed)
}

// handle reports false once the channel generation is gone.
func (c *Coordinator) handle(gen uint64, ev uci.Event) bool {
	switch ev.Kind {
	case uci.EventInfo:
		c.onInfo(gen, ev.Info)
	case uci.EventBestMove:
		c.onBestMove(gen, ev)
	case uci.EventError:
		c.fail(gen, fmt.Errorf("engine error: %s", ev.Message))
		return false
	case uci.EventClosed:
		err := ev.Err
		if err == nil {
			err = uci.ErrChannelClosed
		}
		c.fail(gen, err)
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Coordinator) onInfo(gen uint64, info uci.Info) {
	c.mu.Lock()
	if c.gen != gen || len(c.pending) == 0 || c.pending[0].superseded {
		c.mu.Unlock()
		return
	}
	head := c.pending[0]
	if c.eval.FEN != head.fen {
		c.eval = Evaluation{FEN: head.fen}
	}
	c.eval = c.eval.merge(info)
	snapshot := c.eval.Clone()
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener.OnEvaluation(snapshot)
	}
}

func (c *Coordinator) onBestMove(gen uint64, ev uci.Event) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if len(c.pending) == 0 {
		c.mu.Unlock()
		c.logger.Debug("analysis_bestmove_unmatched", zap.String("move", ev.BestMove))
		return
	}
	head := c.pending[0]
	c.pending = c.pending[1:]
	if head.superseded {
		c.mu.Unlock()
		return
	}
	if head.req != nil {
		head.req.resolve(Result{Move: ev.BestMove, Ponder: ev.Ponder})
		c.mu.Unlock()
		return
	}
	if c.eval.FEN != head.fen {
		c.eval = Evaluation{FEN: head.fen}
	}
	if ev.BestMove != "" {
		c.eval.BestMove = ev.BestMove
	}
	snapshot := c.eval.Clone()
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener.OnEvaluation(snapshot)
	}
}

func (c *Coordinator) fail(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	ch := c.detachLocked(ErrEngineFailed)
	listener := c.listener
	c.mu.Unlock()
	c.reportFailure(listener, ch, fmt.Errorf("%w: %v", ErrEngineFailed, cause))
}
