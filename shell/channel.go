// Package shell manages one interactive text channel to a remote robot:
// a background reader delivers output chunks to a callback while callers
// write command lines synchronously.
package shell

import (
	"context"
	"errors"
	"io"

	"telehub/config"
)

var (
	// ErrInvalidConfig is returned by Connect when the address or user is empty.
	ErrInvalidConfig = errors.New("shell: address and user are required")
	// ErrNotConnected is returned by operations that need an open connection.
	ErrNotConnected = errors.New("shell: not connected")
	// ErrShellNotStarted is returned by Send before StartShell or after Close.
	ErrShellNotStarted = errors.New("shell: shell not started")
	// ErrConnectInProgress is returned by Connect while another dial runs.
	ErrConnectInProgress = errors.New("shell: connect already in progress")
	// ErrConnectAborted is returned by Connect when Close ran during the dial.
	ErrConnectAborted = errors.New("shell: connect aborted by close")
)

// Channel is a duplex text stream. Read and Write may be used concurrently
// by different goroutines. Ready reports whether a Read would return data
// without blocking; Closed reports that the remote end has gone away.
type Channel interface {
	io.ReadWriteCloser
	Ready() bool
	Closed() bool
}

// Conn is an established connection to the remote host.
type Conn interface {
	// OpenShell opens an interactive channel.
	OpenShell() (Channel, error)
	// Exec runs cmd in its own channel and returns once it was accepted.
	Exec(cmd string) error
	Close() error
}

// Dialer establishes connections. SSHDialer is the production implementation.
type Dialer interface {
	Dial(ctx context.Context, cfg config.ShellConfig) (Conn, error)
}

// OutputFunc receives each decoded chunk of shell output.
type OutputFunc func(text string)
