package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"telehub/config"
)

// SSHDialer connects with password authentication. Without a known_hosts
// file any host key is accepted.
type SSHDialer struct{}

func (SSHDialer) Dial(ctx context.Context, cfg config.ShellConfig) (Conn, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		hostKey = cb
	}
	secret := cfg.Secret
	clientCfg := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(secret),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = secret
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(port))
	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		nc.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, addr, clientCfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	nc.SetDeadline(time.Time{})
	return &sshConn{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) OpenShell() (Channel, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm", 40, 120, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	ch := &pipeChannel{sess: sess, stdin: stdin, open: 2}
	go ch.pump(stdout)
	go ch.pump(stderr)
	return ch, nil
}

func (c *sshConn) Exec(cmd string) error {
	sess, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return err
	}
	go func() {
		if err := sess.Wait(); err != nil {
			log.Printf("shell: exec %q: %v", cmd, err)
		}
		sess.Close()
	}()
	return nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

// pipeChannel buffers the remote output so the reader can poll it without
// blocking. Two pump goroutines copy stdout and stderr into buf.
type pipeChannel struct {
	sess  *ssh.Session
	stdin io.WriteCloser

	mu     sync.Mutex
	buf    bytes.Buffer
	open   int
	closed bool
}

func (p *pipeChannel) pump(r io.Reader) {
	b := make([]byte, 4096)
	for {
		n, err := r.Read(b)
		if n > 0 {
			p.mu.Lock()
			p.buf.Write(b[:n])
			p.mu.Unlock()
		}
		if err != nil {
			p.mu.Lock()
			p.open--
			p.mu.Unlock()
			return
		}
	}
}

func (p *pipeChannel) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len() > 0
}

// Closed reports true once the channel was closed locally, or the remote
// streams ended and all buffered output was read.
func (p *pipeChannel) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || (p.open == 0 && p.buf.Len() == 0)
}

func (p *pipeChannel) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf.Len() > 0 {
		return p.buf.Read(b)
	}
	if p.closed || p.open == 0 {
		return 0, io.EOF
	}
	return 0, nil
}

func (p *pipeChannel) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

func (p *pipeChannel) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.stdin.Close()
	return p.sess.Close()
}
