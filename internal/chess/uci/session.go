package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const eventBuffer = 64

type ProcessOptions struct {
	Args   []string
	Env    []string
	Logger *zap.Logger
}

// ProcessChannel talks to an engine binary over its stdin/stdout.
type ProcessChannel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *zap.Logger

	mu        sync.Mutex
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	waitErr   error
}

func NewProcessChannel(ctx context.Context, binaryPath string, opt ProcessOptions) (*ProcessChannel, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	// ctx bounds the dial only; Close ends the process.
	cmd := exec.Command(binaryPath, opt.Args...)
	if len(opt.Env) > 0 {
		cmd.Env = append(os.Environ(), opt.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	p := &ProcessChannel{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdoutPipe),
		logger: logger,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// ProcessDialer starts a new engine process per dial.
func ProcessDialer(binaryPath string, opt ProcessOptions) Dialer {
	return func(ctx context.Context) (Channel, error) {
		return NewProcessChannel(ctx, binaryPath, opt)
	}
}

func (p *ProcessChannel) Events() <-chan Event { return p.events }

func (p *ProcessChannel) Send(cmd string) error {
	select {
	case <-p.done:
		return ErrChannelClosed
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := strings.TrimRight(cmd, "\r\n") + "\n"
	if _, err := io.WriteString(p.stdin, msg); err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

func (p *ProcessChannel) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		if p.stdin != nil {
			_, _ = io.WriteString(p.stdin, "quit\n")
			p.stdin.Close()
		}
		p.mu.Unlock()
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		if p.cmd != nil {
			p.waitErr = p.cmd.Wait()
		}
	})
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		// killed on purpose
		return nil
	}
	return p.waitErr
}

func (p *ProcessChannel) readLoop() {
	defer close(p.events)
	for {
		line, err := p.stdout.ReadString('\n')
		if line != "" {
			if ev, ok := ParseLine(line); ok {
				if !p.emit(ev) {
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrChannelClosed
			}
			select {
			case <-p.done:
				return
			default:
			}
			p.logger.Warn("uci_process_read_error", zap.Error(err))
			p.emit(Event{Kind: EventClosed, Err: err})
			return
		}
	}
}

func (p *ProcessChannel) emit(ev Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	}
}
