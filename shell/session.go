package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"telehub/config"
)

const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultReadBuffer   = 1024
	DefaultJoinTimeout  = time.Second
)

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

type SessionOption func(*Session)

// WithTiming applies the poll interval, read buffer size and join timeout
// from cfg. Zero values keep the defaults.
func WithTiming(cfg config.ShellConfig) SessionOption {
	return func(s *Session) {
		if cfg.PollInterval > 0 {
			s.pollInterval = cfg.PollInterval
		}
		if cfg.ReadBuffer > 0 {
			s.bufSize = cfg.ReadBuffer
		}
		if cfg.JoinTimeout > 0 {
			s.joinTimeout = cfg.JoinTimeout
		}
	}
}

// WithClock replaces the clock used to name detached log files.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// Session is one remote shell. It holds at most one connection and at most
// one open channel; exactly one reader goroutine runs while the channel is
// open. A closed Session can be connected again.
type Session struct {
	dialer       Dialer
	pollInterval time.Duration
	bufSize      int
	joinTimeout  time.Duration
	now          func() time.Time

	mu         sync.Mutex
	conn       Conn
	ch         Channel
	stop       chan struct{}
	done       chan struct{}
	target     string
	cancelDial context.CancelFunc // non-nil while a dial runs
	closes     uint64             // bumped by Close, checked after a dial

	writeMu sync.Mutex

	cbMu     sync.RWMutex
	onOutput OutputFunc
}

func NewSession(dialer Dialer, opts ...SessionOption) *Session {
	s := &Session{
		dialer:       dialer,
		pollInterval: DefaultPollInterval,
		bufSize:      DefaultReadBuffer,
		joinTimeout:  DefaultJoinTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the connection described by cfg. It is a no-op when the
// session is already connected. The dial runs without holding the session
// lock; a Close during the dial cancels it and Connect returns
// ErrConnectAborted.
func (s *Session) Connect(ctx context.Context, cfg config.ShellConfig) error {
	if strings.TrimSpace(cfg.Address) == "" || strings.TrimSpace(cfg.User) == "" {
		return ErrInvalidConfig
	}
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	if s.cancelDial != nil {
		s.mu.Unlock()
		return ErrConnectInProgress
	}
	dialCtx, cancel := context.WithCancel(ctx)
	s.cancelDial = cancel
	closes := s.closes
	s.mu.Unlock()

	target := cfg.User + "@" + cfg.Address
	conn, err := s.dialer.Dial(dialCtx, cfg)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes != closes {
		if err == nil {
			conn.Close()
		}
		return fmt.Errorf("shell: connect %s: %w", target, ErrConnectAborted)
	}
	s.cancelDial = nil
	if err != nil {
		return fmt.Errorf("shell: connect %s: %w", target, err)
	}
	s.conn = conn
	s.target = target
	log.Printf("shell: connected to %s", target)
	return nil
}

// StartShell opens the interactive channel, writes initialCommand as the
// first line when it is not empty, and starts the reader. Calling it again
// while the shell is open does nothing.
func (s *Session) StartShell(initialCommand string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if s.ch != nil {
		return nil
	}
	ch, err := s.conn.OpenShell()
	if err != nil {
		return fmt.Errorf("shell: open shell on %s: %w", s.target, err)
	}
	if initialCommand != "" {
		if _, err := io.WriteString(ch, withNewline(initialCommand)); err != nil {
			ch.Close()
			return fmt.Errorf("shell: initial command: %w", err)
		}
	}
	s.ch = ch
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.readLoop(ch, s.stop, s.done)
	log.Printf("shell: shell started on %s", s.target)
	return nil
}

// SetOutputCallback replaces the output callback. The new callback receives
// the next delivered chunk. A nil callback discards output.
func (s *Session) SetOutputCallback(fn OutputFunc) {
	s.cbMu.Lock()
	s.onOutput = fn
	s.cbMu.Unlock()
}

// Send writes text to the shell, adding a trailing newline if missing.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return ErrShellNotStarted
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(ch, withNewline(text)); err != nil {
		return fmt.Errorf("shell: send: %w", err)
	}
	return nil
}

// RunDetached starts a python script on the remote host in the background,
// with output redirected to a timestamped log file in the remote home
// directory. It returns that log file path.
func (s *Session) RunDetached(remotePath, logPrefix string) (string, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}
	logfile := fmt.Sprintf("~/%s_%d.log", logPrefix, s.now().Unix())
	if err := conn.Exec(DetachedCommand(remotePath, logfile)); err != nil {
		return "", fmt.Errorf("shell: run %s: %w", remotePath, err)
	}
	log.Printf("shell: started %s on %s (log %s)", remotePath, s.target, logfile)
	return logfile, nil
}

// Close cancels a running dial, stops the reader, waiting at most the join
// timeout, then closes the channel and the connection. It is safe to call
// at any time and repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	conn, ch, stop, done, target := s.conn, s.ch, s.stop, s.done, s.target
	s.conn, s.ch, s.stop, s.done, s.target = nil, nil, nil, nil, ""
	cancelDial := s.cancelDial
	s.cancelDial = nil
	s.closes++
	s.mu.Unlock()

	if cancelDial != nil {
		cancelDial()
	}
	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-time.After(s.joinTimeout):
			log.Printf("shell: reader for %s did not exit within %s", target, s.joinTimeout)
		}
	}
	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, io.EOF) {
			log.Printf("shell: close channel: %v", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Printf("shell: close connection: %v", err)
		}
		log.Printf("shell: disconnected from %s", target)
	}
}

// Done returns a channel that is closed when the current reader exits,
// either after Close or because the remote end closed the shell. Without an
// open shell it returns an already closed channel.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return closedChan
	}
	return s.done
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Session) ShellStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil
}

// Target returns user@address of the current connection, or "".
func (s *Session) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) readLoop(ch Channel, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, s.bufSize)
	var pending []byte

	wait := func() bool {
		select {
		case <-stop:
			return false
		case <-time.After(s.pollInterval):
			return true
		}
	}

	for {
		select {
		case <-stop:
			return
		default:
		}
		if ch.Closed() {
			s.flush(pending)
			return
		}
		if !ch.Ready() {
			if !wait() {
				return
			}
			continue
		}

		n, err := ch.Read(buf)
		if n > 0 {
			var text string
			text, pending = splitUTF8(append(pending, buf[:n]...))
			if text != "" {
				s.deliver(text)
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			s.flush(pending)
			return
		case err != nil:
			log.Printf("shell: read: %v", err)
			if !wait() {
				return
			}
		case n == 0:
			s.flush(pending)
			return
		}
	}
}

func (s *Session) flush(pending []byte) {
	if len(pending) > 0 {
		s.deliver(string(pending))
	}
}

func (s *Session) deliver(text string) {
	s.cbMu.RLock()
	fn := s.onOutput
	s.cbMu.RUnlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("shell: output callback panicked: %v", r)
		}
	}()
	fn(text)
}

// splitUTF8 returns the longest prefix of b that does not end inside a
// multi-byte rune, and the incomplete remainder.
func splitUTF8(b []byte) (string, []byte) {
	cut := len(b)
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				cut = i
			}
			break
		}
	}
	rest := make([]byte, len(b)-cut)
	copy(rest, b[cut:])
	return string(b[:cut]), rest
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
