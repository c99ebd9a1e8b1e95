//go:build windows

package wireframe

import (
	"errors"
	"io"
	"net"

	"github.com/Microsoft/go-winio"
)

// PipeConnection carries the envelope stream over a Windows named pipe,
// the platform equivalent of the local-domain socket used on POSIX. The
// server listens and accepts exactly one peer, matching the out-of-process
// transport's one-client contract.
type PipeConnection struct {
	path string

	listener net.Listener
	conn     net.Conn
}

// NewPipeConnection returns a Connection bound to the given named pipe
// path (e.g. \\.\pipe\PSHost....) once Open is called.
func NewPipeConnection(path string) *PipeConnection {
	return &PipeConnection{path: path}
}

// Open creates the named pipe and blocks until the single expected peer
// connects.
func (c *PipeConnection) Open() error {
	l, err := winio.ListenPipe(c.path, nil)
	if err != nil {
		return err
	}
	c.listener = l

	conn, err := l.Accept()
	if err != nil {
		_ = l.Close()
		return err
	}
	c.conn = conn
	return nil
}

// Close tears down the accepted peer connection and the pipe listener.
func (c *PipeConnection) Close() error {
	var errs []error
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	if c.listener != nil {
		errs = append(errs, c.listener.Close())
	}
	return errors.Join(errs...)
}

// Read returns up to len(buf) bytes from the accepted peer.
func (c *PipeConnection) Read(buf []byte) (int, error) {
	n, err := c.conn.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// Send writes all of data to the accepted peer.
func (c *PipeConnection) Send(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}
