package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"telehub/config"
)

// --- Fakes ---

// mockChannel hands out queued chunks one Read at a time, each becoming
// ready delay after the previous one was read.
type mockChannel struct {
	mu       sync.Mutex
	chunks   [][]byte
	delay    time.Duration
	readyAt  time.Time
	written  bytes.Buffer
	closed   bool
	hangup   bool // report closed once the queue is drained
	closeCnt int
}

func newMockChannel(delay time.Duration, chunks ...string) *mockChannel {
	ch := &mockChannel{delay: delay, readyAt: time.Now().Add(delay)}
	for _, c := range chunks {
		ch.chunks = append(ch.chunks, []byte(c))
	}
	return ch
}

func (m *mockChannel) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks) > 0 && !time.Now().Before(m.readyAt)
}

func (m *mockChannel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed || (m.hangup && len(m.chunks) == 0)
}

func (m *mockChannel) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, m.chunks[0])
	m.chunks = m.chunks[1:]
	m.readyAt = time.Now().Add(m.delay)
	return n, nil
}

func (m *mockChannel) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	return m.written.Write(b)
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCnt++
	return nil
}

func (m *mockChannel) writes() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

type mockConn struct {
	ch      *mockChannel
	openErr error
	execs   []string
	closed  int
}

func (c *mockConn) OpenShell() (Channel, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.ch, nil
}

func (c *mockConn) Exec(cmd string) error {
	c.execs = append(c.execs, cmd)
	return nil
}

func (c *mockConn) Close() error {
	c.closed++
	return nil
}

type mockDialer struct {
	conn  *mockConn
	err   error
	dials int
	last  config.ShellConfig
}

func (d *mockDialer) Dial(_ context.Context, cfg config.ShellConfig) (Conn, error) {
	d.dials++
	d.last = cfg
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// collector gathers callback chunks and signals each arrival.
type collector struct {
	mu     sync.Mutex
	chunks []string
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) fn(text string) {
	c.mu.Lock()
	c.chunks = append(c.chunks, text)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []string {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-timeout:
			t.Fatalf("timed out waiting for chunk %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chunks...)
}

var testShellCfg = config.ShellConfig{
	Address:      "robot.local",
	User:         "admin",
	Secret:       "admin",
	Port:         22,
	PollInterval: 5 * time.Millisecond,
	JoinTimeout:  time.Second,
}

func startedSession(t *testing.T, ch *mockChannel, fn OutputFunc) (*Session, *mockConn) {
	t.Helper()
	conn := &mockConn{ch: ch}
	s := NewSession(&mockDialer{conn: conn}, WithTiming(testShellCfg))
	s.SetOutputCallback(fn)
	if err := s.Connect(context.Background(), testShellCfg); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.StartShell(""); err != nil {
		t.Fatalf("start shell: %v", err)
	}
	t.Cleanup(s.Close)
	return s, conn
}

// --- Tests ---

func TestChunksDeliveredInOrder(t *testing.T) {
	ch := newMockChannel(20*time.Millisecond, "abc", "def")
	col := newCollector()
	conn := &mockConn{ch: ch}
	s := NewSession(&mockDialer{conn: conn}, WithTiming(testShellCfg))
	s.SetOutputCallback(col.fn)
	if err := s.Connect(context.Background(), testShellCfg); err != nil {
		t.Fatal(err)
	}
	if err := s.StartShell(""); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got := col.wait(t, 2)
	time.Sleep(30 * time.Millisecond)
	col.mu.Lock()
	total := len(col.chunks)
	col.mu.Unlock()

	if total != 2 {
		t.Fatalf("received %d chunks, want 2", total)
	}
	if got[0] != "abc" || got[1] != "def" {
		t.Errorf("chunks = %q, want [abc def]", got)
	}
}

func TestSendBeforeStart(t *testing.T) {
	s := NewSession(&mockDialer{conn: &mockConn{ch: newMockChannel(0)}})
	if err := s.Send("hello"); !errors.Is(err, ErrShellNotStarted) {
		t.Errorf("Send before connect = %v, want ErrShellNotStarted", err)
	}
	if err := s.Connect(context.Background(), testShellCfg); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Send("hello"); !errors.Is(err, ErrShellNotStarted) {
		t.Errorf("Send before StartShell = %v, want ErrShellNotStarted", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	s, _ := startedSession(t, newMockChannel(0), nil)
	s.Close()
	if err := s.Send("MOVE stop 0"); !errors.Is(err, ErrShellNotStarted) {
		t.Errorf("Send after Close = %v, want ErrShellNotStarted", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	NewSession(SSHDialer{}).Close() // never connected

	ch := newMockChannel(0)
	s, conn := startedSession(t, ch, nil)
	s.Close()
	s.Close()
	if ch.closeCnt != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closeCnt)
	}
	if conn.closed != 1 {
		t.Errorf("conn closed %d times, want 1", conn.closed)
	}
	if s.Connected() || s.ShellStarted() {
		t.Error("session should report disconnected after Close")
	}
}

func TestSendAppendsNewline(t *testing.T) {
	ch := newMockChannel(0)
	s, _ := startedSession(t, ch, nil)

	if err := s.Send(Move(Forward, DefaultSpeed)); err != nil {
		t.Fatal(err)
	}
	if err := s.Send("ls\n"); err != nil {
		t.Fatal(err)
	}
	if got, want := ch.writes(), "MOVE forward 200\nls\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestInitialCommandWrittenFirst(t *testing.T) {
	ch := newMockChannel(0)
	conn := &mockConn{ch: ch}
	s := NewSession(&mockDialer{conn: conn}, WithTiming(testShellCfg))
	s.Connect(context.Background(), testShellCfg)
	if err := s.StartShell("python3 control_robot.py"); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Send("MOVE stop 0")

	if got, want := ch.writes(), "python3 control_robot.py\nMOVE stop 0\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestStartShellRequiresConnection(t *testing.T) {
	s := NewSession(&mockDialer{})
	if err := s.StartShell(""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartShell = %v, want ErrNotConnected", err)
	}
}

func TestConnectValidatesAndIsIdempotent(t *testing.T) {
	d := &mockDialer{conn: &mockConn{ch: newMockChannel(0)}}
	s := NewSession(d)

	bad := testShellCfg
	bad.Address = " "
	if err := s.Connect(context.Background(), bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Connect with empty address = %v, want ErrInvalidConfig", err)
	}

	if err := s.Connect(context.Background(), testShellCfg); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(context.Background(), testShellCfg); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if d.dials != 1 {
		t.Errorf("dials = %d, want 1", d.dials)
	}
	if s.Target() != "admin@robot.local" {
		t.Errorf("Target = %q", s.Target())
	}
}

func TestConnectErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	s := NewSession(&mockDialer{err: cause})
	err := s.Connect(context.Background(), testShellCfg)
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
	if s.Connected() {
		t.Error("Connected should be false after failed dial")
	}
}

// slowDialer blocks in Dial until release is closed or, when it honours
// cancellation, until the dial context ends.
type slowDialer struct {
	conn        *mockConn
	honourCtx   bool
	entered     chan struct{}
	release     chan struct{}
	cancelledMu sync.Mutex
	cancelled   bool
}

func newSlowDialer(honourCtx bool) *slowDialer {
	return &slowDialer{
		conn:      &mockConn{ch: newMockChannel(0)},
		honourCtx: honourCtx,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (d *slowDialer) Dial(ctx context.Context, _ config.ShellConfig) (Conn, error) {
	close(d.entered)
	if d.honourCtx {
		select {
		case <-ctx.Done():
			d.cancelledMu.Lock()
			d.cancelled = true
			d.cancelledMu.Unlock()
			return nil, ctx.Err()
		case <-d.release:
		}
	} else {
		<-d.release
	}
	return d.conn, nil
}

// startConnect runs Connect in the background and waits until the dial is
// under way.
func startConnect(t *testing.T, s *Session, d *slowDialer) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Connect(context.Background(), testShellCfg) }()
	select {
	case <-d.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("dial never started")
	}
	return errc
}

func TestStatusDoesNotWaitForDial(t *testing.T) {
	d := newSlowDialer(false)
	s := NewSession(d)
	errc := startConnect(t, s, d)

	answered := make(chan struct{})
	go func() {
		s.Connected()
		s.ShellStarted()
		s.Target()
		s.Done()
		close(answered)
	}()
	select {
	case <-answered:
	case <-time.After(time.Second):
		t.Fatal("status accessors blocked behind the dial")
	}
	if s.Connected() {
		t.Error("Connected should be false while dialing")
	}
	if err := s.Connect(context.Background(), testShellCfg); !errors.Is(err, ErrConnectInProgress) {
		t.Errorf("second Connect = %v, want ErrConnectInProgress", err)
	}

	close(d.release)
	if err := <-errc; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()
	if !s.Connected() {
		t.Error("Connected should be true once the dial returns")
	}
}

func TestCloseCancelsDial(t *testing.T) {
	d := newSlowDialer(true)
	s := NewSession(d)
	errc := startConnect(t, s, d)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind the dial")
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrConnectAborted) {
			t.Errorf("Connect = %v, want ErrConnectAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}
	d.cancelledMu.Lock()
	defer d.cancelledMu.Unlock()
	if !d.cancelled {
		t.Error("dial context was not cancelled")
	}
	if s.Connected() {
		t.Error("Connected should be false after an aborted connect")
	}
}

func TestCloseDuringDialClosesLateConn(t *testing.T) {
	d := newSlowDialer(false)
	s := NewSession(d)
	errc := startConnect(t, s, d)

	s.Close()
	close(d.release)
	if err := <-errc; !errors.Is(err, ErrConnectAborted) {
		t.Fatalf("Connect = %v, want ErrConnectAborted", err)
	}
	if d.conn.closed != 1 {
		t.Errorf("late conn closed %d times, want 1", d.conn.closed)
	}
	if s.Connected() {
		t.Error("a conn dialed before Close must not be installed")
	}

	// The session is usable again.
	d2 := &mockDialer{conn: &mockConn{ch: newMockChannel(0)}}
	s.dialer = d2
	if err := s.Connect(context.Background(), testShellCfg); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	s.Close()
}

func TestOpenShellErrorWrapsCause(t *testing.T) {
	cause := errors.New("pty refused")
	s := NewSession(&mockDialer{conn: &mockConn{openErr: cause}})
	s.Connect(context.Background(), testShellCfg)
	defer s.Close()
	if err := s.StartShell(""); !errors.Is(err, cause) {
		t.Errorf("StartShell = %v, want wrapped cause", err)
	}
	if s.ShellStarted() {
		t.Error("ShellStarted should be false")
	}
}

func TestCallbackPanicDoesNotStopReader(t *testing.T) {
	ch := newMockChannel(10*time.Millisecond, "first", "second")
	col := newCollector()
	var once sync.Once
	startedSession(t, ch, func(text string) {
		once.Do(func() { panic("render failed") })
		col.fn(text)
	})

	got := col.wait(t, 1)
	if got[0] != "second" {
		t.Errorf("chunk = %q, want second", got[0])
	}
}

func TestSetOutputCallbackSwapsMidStream(t *testing.T) {
	ch := newMockChannel(30*time.Millisecond, "one", "two")
	first, second := newCollector(), newCollector()
	s, _ := startedSession(t, ch, first.fn)

	first.wait(t, 1)
	s.SetOutputCallback(second.fn)
	got := second.wait(t, 1)

	if got[0] != "two" {
		t.Errorf("second callback got %q, want two", got[0])
	}
	first.mu.Lock()
	n := len(first.chunks)
	first.mu.Unlock()
	if n != 1 {
		t.Errorf("first callback got %d chunks, want 1", n)
	}
}

func TestSplitRuneAcrossChunks(t *testing.T) {
	ch := newMockChannel(5*time.Millisecond, "caf\xc3", "\xa9!")
	col := newCollector()
	startedSession(t, ch, col.fn)

	got := col.wait(t, 2)
	if strings.Join(got, "") != "café!" {
		t.Errorf("joined = %q, want café!", strings.Join(got, ""))
	}
	if got[0] != "caf" {
		t.Errorf("first chunk = %q, want caf", got[0])
	}
}

func TestDoneClosesOnRemoteHangup(t *testing.T) {
	ch := newMockChannel(0, "bye")
	ch.hangup = true
	s, _ := startedSession(t, ch, nil)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after remote hangup")
	}
}

func TestDoneWithoutShell(t *testing.T) {
	s := NewSession(&mockDialer{})
	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed when no shell is open")
	}
}

func TestReconnectAfterClose(t *testing.T) {
	d := &mockDialer{conn: &mockConn{ch: newMockChannel(0)}}
	s := NewSession(d, WithTiming(testShellCfg))
	s.Connect(context.Background(), testShellCfg)
	s.StartShell("")
	s.Close()

	d.conn = &mockConn{ch: newMockChannel(0)}
	if err := s.Connect(context.Background(), testShellCfg); err != nil {
		t.Fatal(err)
	}
	if err := s.StartShell(""); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if d.dials != 2 {
		t.Errorf("dials = %d, want 2", d.dials)
	}
	if err := s.Send("ok"); err != nil {
		t.Errorf("Send after reconnect: %v", err)
	}
}

func TestRunDetached(t *testing.T) {
	conn := &mockConn{ch: newMockChannel(0)}
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	s := NewSession(&mockDialer{conn: conn}, WithClock(clock))

	if _, err := s.RunDetached("test.py", "test_remote"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RunDetached before connect = %v, want ErrNotConnected", err)
	}

	s.Connect(context.Background(), testShellCfg)
	defer s.Close()
	logfile, err := s.RunDetached("test.py", "test_remote")
	if err != nil {
		t.Fatal(err)
	}
	if logfile != "~/test_remote_1700000000.log" {
		t.Errorf("logfile = %q", logfile)
	}
	want := "cd ~ && nohup python3 test.py > ~/test_remote_1700000000.log 2>&1 &"
	if len(conn.execs) != 1 || conn.execs[0] != want {
		t.Errorf("execs = %q, want [%q]", conn.execs, want)
	}
}
