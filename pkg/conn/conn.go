// Package conn contains a RTSP message framer.
package conn

import (
	"bufio"
	"io"

	"github.com/mstream/rtspconn/pkg/base"
)

const (
	readBufferSize = 4096
)

// Conn binds RTSP messages to a byte stream.
type Conn struct {
	w  io.Writer
	br *bufio.Reader

	maxContentLength int64

	// reused between reads. it must never be passed to secondary routines.
	fr base.InterleavedFrame
}

// NewConn allocates a Conn.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		w:                rw,
		br:               bufio.NewReaderSize(rw, readBufferSize),
		maxContentLength: base.DefaultMaxContentLength,
	}
}

// SetMaxContentLength sets the maximum size of incoming message bodies
// and interleaved frame payloads.
func (c *Conn) SetMaxContentLength(v int64) {
	c.maxContentLength = v
}

// BufferedReader returns the underlying buffered reader.
func (c *Conn) BufferedReader() *bufio.Reader {
	return c.br
}

// Read reads a Request, a Response or an InterleavedFrame,
// dispatching on the first bytes of the stream.
func (c *Conn) Read() (interface{}, error) {
	byts, err := c.br.Peek(2)
	if err != nil {
		return nil, err
	}

	if byts[0] == base.InterleavedFrameMagicByte {
		return c.ReadInterleavedFrame()
	}

	if byts[0] == 'R' && byts[1] == 'T' {
		return c.ReadResponse()
	}

	return c.ReadRequest()
}

// ReadRequest reads a Request.
func (c *Conn) ReadRequest() (*base.Request, error) {
	var req base.Request
	err := req.UnmarshalLimit(c.br, c.maxContentLength)
	return &req, err
}

// ReadResponse reads a Response.
func (c *Conn) ReadResponse() (*base.Response, error) {
	var res base.Response
	err := res.UnmarshalLimit(c.br, c.maxContentLength)
	return &res, err
}

// ReadInterleavedFrame reads an InterleavedFrame.
func (c *Conn) ReadInterleavedFrame() (*base.InterleavedFrame, error) {
	err := c.fr.UnmarshalLimit(c.br, c.maxContentLength)
	return &c.fr, err
}

// WriteRequest writes a Request.
func (c *Conn) WriteRequest(req *base.Request) error {
	buf, _ := req.Marshal()
	_, err := c.w.Write(buf)
	return err
}

// WriteResponse writes a Response.
func (c *Conn) WriteResponse(res *base.Response) error {
	buf, _ := res.Marshal()
	_, err := c.w.Write(buf)
	return err
}

// WriteInterleavedFrame writes an InterleavedFrame.
func (c *Conn) WriteInterleavedFrame(fr *base.InterleavedFrame) error {
	buf, _ := fr.Marshal()
	_, err := c.w.Write(buf)
	return err
}
