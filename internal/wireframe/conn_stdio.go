package wireframe

import (
	"bufio"
	"io"
	"os"
)

// StdioConnection carries the envelope stream over the process's own
// standard input and output. Reads go through a bufio.Reader and return
// whatever chunk is available, which may hold a partial line or several
// lines; the Transport's own "\n"-seeking loop (see internal/server)
// reassembles newline-delimited packets across reads.
type StdioConnection struct {
	in  *bufio.Reader
	out *os.File
}

// NewStdioConnection returns a Connection over os.Stdin/os.Stdout.
func NewStdioConnection() *StdioConnection {
	return &StdioConnection{
		in:  bufio.NewReaderSize(os.Stdin, 32*1024),
		out: os.Stdout,
	}
}

// Open is a no-op: stdio is always already connected.
func (c *StdioConnection) Open() error { return nil }

// Close is a no-op: closing the process's own stdio streams isn't ours to
// do.
func (c *StdioConnection) Close() error { return nil }

// Read returns up to len(buf) bytes read from stdin. A read that hits EOF
// with no bytes read returns (0, nil), signaling peer close the way the
// rest of this package expects.
func (c *StdioConnection) Read(buf []byte) (int, error) {
	n, err := c.in.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// Send writes data to stdout and flushes immediately.
func (c *StdioConnection) Send(data []byte) error {
	_, err := c.out.Write(data)
	return err
}
