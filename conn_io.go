package rtspconn

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/mstream/rtspconn/pkg/base"
	"github.com/mstream/rtspconn/pkg/headers"
	"github.com/mstream/rtspconn/pkg/liberrors"
)

// PollEvent is a bitset of channel conditions checked by Poll.
type PollEvent int

// poll events.
const (
	// PollRead reports whether a message or data can be read without blocking.
	PollRead PollEvent = 1 << iota

	// PollWrite reports whether data can be written without blocking.
	PollWrite
)

var (
	rtspProtoRequest  = []byte(" RTSP/1.0\r\n")
	httpProtoRequest  = []byte(" HTTP/1.0\r\n")
	httpProtoResponse = []byte("HTTP/1.0")
)

// Send serializes a message onto the connection, blocking at most for
// the given timeout. Zero attempts a single non-blocking write and a
// negative timeout blocks indefinitely.
//
// When credentials are configured and a challenge has been observed,
// an Authorization header is attached to outgoing requests. When
// session tracking is enabled, the stored session ID is forced onto
// requests that lack one.
func (c *Conn) Send(msg Message, timeout time.Duration) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	if req, ok := msg.(*base.Request); ok && !isHTTPMethod(req.Method) {
		c.mu.Lock()
		c.authRetried = false
		c.mu.Unlock()
		c.prepareRequest(req)
	}

	return c.sendInner(msg, ioDeadline(timeout))
}

// SendMany serializes a batch of messages in order, sharing a single
// timeout and a single flush.
func (c *Conn) SendMany(msgs []Message, timeout time.Duration) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	for _, msg := range msgs {
		if req, ok := msg.(*base.Request); ok && !isHTTPMethod(req.Method) {
			c.mu.Lock()
			c.authRetried = false
			c.mu.Unlock()
			c.prepareRequest(req)
		}
	}

	deadline := ioDeadline(timeout)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.setWriteDeadline(deadline)
	defer c.setWriteDeadline(time.Time{})

	for _, msg := range msgs {
		if err := c.writeMessage(msg); err != nil {
			return c.mapWriteError(err)
		}
	}

	if err := c.bw.Flush(); err != nil {
		return c.mapWriteError(err)
	}

	c.ResetTimeout() //nolint:errcheck
	return nil
}

func (c *Conn) sendInner(msg Message, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.setWriteDeadline(deadline)
	defer c.setWriteDeadline(time.Time{})

	if err := c.writeMessage(msg); err != nil {
		return c.mapWriteError(err)
	}

	if err := c.bw.Flush(); err != nil {
		return c.mapWriteError(err)
	}

	c.ResetTimeout() //nolint:errcheck
	return nil
}

func (c *Conn) writeMessage(msg Message) error {
	switch m := msg.(type) {
	case *base.Request:
		buf, err := m.Marshal()
		if err != nil {
			return err
		}
		if c.httpMode || isHTTPMethod(m.Method) {
			buf = bytes.Replace(buf, rtspProtoRequest, httpProtoRequest, 1)
		}
		_, err = c.bw.Write(buf)
		return err

	case *base.Response:
		buf, err := m.Marshal()
		if err != nil {
			return err
		}
		if c.httpMode {
			copy(buf[:len(httpProtoResponse)], httpProtoResponse)
		}
		_, err = c.bw.Write(buf)
		return err

	case *base.InterleavedFrame:
		buf, err := m.Marshal()
		if err != nil {
			return err
		}
		_, err = c.bw.Write(buf)
		return err
	}

	return liberrors.ErrMalformedMessage{Err: errors.New("unsupported message type")}
}

// prepareRequest attaches the session ID and the Authorization header
// to an outgoing request, and records it for the authentication retry.
func (c *Conn) prepareRequest(req *base.Request) {
	c.mu.Lock()
	sessionID := ""
	if c.rememberSessionID {
		sessionID = c.sessionID
	}
	c.mu.Unlock()

	if sessionID != "" {
		if req.Header == nil {
			req.Header = make(base.Header)
		}
		if len(req.Header["Session"]) == 0 {
			req.Header["Session"] = base.HeaderValue{sessionID}
		}
	}

	if c.authSender != nil && c.authSender.Ready() {
		c.authSender.AddAuthorization(req)
	}

	c.mu.Lock()
	c.lastRequest = req
	c.mu.Unlock()
}

// Receive parses the next message from the connection, blocking at
// most for the given timeout. Zero polls once without blocking and a
// negative timeout blocks indefinitely.
//
// A 401 or 407 response to a recorded request is handled transparently
// when credentials are configured: the request is retried once with an
// Authorization header, and the follow-up response is returned.
func (c *Conn) Receive(timeout time.Duration) (Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	msg, err := c.receiveInner(ioDeadline(timeout))
	if err != nil {
		return nil, err
	}

	c.ResetTimeout() //nolint:errcheck
	return msg, nil
}

func (c *Conn) receiveInner(deadline time.Time) (Message, error) {
	c.setReadDeadline(deadline)
	defer c.setReadDeadline(time.Time{})

	if c.httpMode {
		if msg, handled, err := c.readHTTPRequest(); handled {
			return msg, err
		}
	}

	msg, err := c.cc.Read()
	if err != nil {
		return nil, c.mapReadError(err)
	}

	if res, ok := msg.(*base.Response); ok {
		c.captureSession(res)

		if retry, err := c.shouldRetryAuth(res); retry {
			if err != nil {
				return nil, err
			}

			c.mu.Lock()
			req := c.lastRequest
			c.mu.Unlock()

			c.prepareRequest(req)
			if err := c.sendInner(req, deadline); err != nil {
				return nil, err
			}
			return c.receiveInner(deadline)
		}
	}

	return msg, nil
}

// readHTTPRequest parses a tunnel handshake request (GET or POST).
// The second return value reports whether the stream actually carried
// one; otherwise the caller falls back to RTSP parsing.
func (c *Conn) readHTTPRequest() (*base.Request, bool, error) {
	br := c.cc.BufferedReader()

	byts, err := br.Peek(4)
	if err != nil {
		return nil, true, c.mapReadError(err)
	}
	if !bytes.Equal(byts, []byte("GET ")) && !bytes.Equal(byts, []byte("POST")) {
		return nil, false, nil
	}

	// the POST body is the upstream tunnel channel and must stay in the
	// stream, therefore only the header section is consumed.
	hreq, err := http.ReadRequest(br)
	if err != nil {
		return nil, true, c.mapReadError(err)
	}

	req := &base.Request{
		Method: base.Method(hreq.Method),
		URL: &base.URL{
			Scheme:   "rtsph",
			Host:     hreq.Host,
			Path:     hreq.URL.Path,
			RawQuery: hreq.URL.RawQuery,
		},
		Header: make(base.Header, len(hreq.Header)),
	}
	for k, v := range hreq.Header {
		req.Header[k] = base.HeaderValue(v)
	}

	if cookie := hreq.Header.Get("x-sessioncookie"); cookie != "" {
		c.mu.Lock()
		c.tunnelID = cookie
		if hreq.Method == "GET" {
			c.tunnelRole = TunnelRoleGet
		} else {
			c.tunnelRole = TunnelRolePost
		}
		c.mu.Unlock()
	}

	return req, true, nil
}

// captureSession stores the session ID carried by a response, so that
// it can be forced onto the following requests.
func (c *Conn) captureSession(res *base.Response) {
	c.mu.Lock()
	track := c.rememberSessionID
	c.mu.Unlock()

	if !track || len(res.Header["Session"]) == 0 {
		return
	}

	var sx headers.Session
	if err := sx.Unmarshal(res.Header["Session"]); err != nil {
		return
	}

	c.mu.Lock()
	c.sessionID = sx.Session
	c.mu.Unlock()
}

// ReadBytes reads raw bytes from the connection, bypassing message
// framing. Bytes already buffered by the framer are returned first.
func (c *Conn) ReadBytes(p []byte, timeout time.Duration) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	deadline := ioDeadline(timeout)
	c.setReadDeadline(deadline)
	defer c.setReadDeadline(time.Time{})

	n, err := c.cc.BufferedReader().Read(p)
	if err != nil {
		return n, c.mapIOError("read", err)
	}

	c.ResetTimeout() //nolint:errcheck
	return n, nil
}

// WriteBytes writes raw bytes to the connection, bypassing message
// framing, with the same timeout and delivery semantics as Send: the
// bytes are flushed to the socket before returning. On tunneled
// connections they are encoded like any other outgoing data.
func (c *Conn) WriteBytes(p []byte, timeout time.Duration) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	deadline := ioDeadline(timeout)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.setWriteDeadline(deadline)
	defer c.setWriteDeadline(time.Time{})

	n, err := c.bw.Write(p)
	if err != nil {
		return n, c.mapWriteError(err)
	}

	if err := c.bw.Flush(); err != nil {
		return n, c.mapWriteError(err)
	}

	c.ResetTimeout() //nolint:errcheck
	return n, nil
}

// Flush forces buffered output to the socket.
func (c *Conn) Flush(timeout time.Duration) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	deadline := ioDeadline(timeout)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.setWriteDeadline(deadline)
	defer c.setWriteDeadline(time.Time{})

	if err := c.bw.Flush(); err != nil {
		return c.mapWriteError(err)
	}

	c.ResetTimeout() //nolint:errcheck
	return nil
}

// Poll reports which of the requested conditions hold on the
// connection, waiting at most for the given timeout. When none holds
// within the timeout, ErrTimeout is returned.
func (c *Conn) Poll(events PollEvent, timeout time.Duration) (PollEvent, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	var ready PollEvent

	// an open TCP connection is writable unless its send buffer is
	// full, a condition that cannot be observed without writing.
	if events&PollWrite != 0 {
		ready |= PollWrite
	}

	if events&PollRead != 0 {
		br := c.cc.BufferedReader()
		if br.Buffered() > 0 {
			ready |= PollRead
		} else {
			c.setReadDeadline(ioDeadline(timeout))
			_, err := br.Peek(1)
			c.setReadDeadline(time.Time{})

			switch {
			case err == nil:
				ready |= PollRead

			case isTimeoutError(err):
				// not readable

			default:
				return 0, c.mapIOError("poll", err)
			}
		}
	}

	if ready == 0 {
		return 0, liberrors.ErrTimeout{Op: "poll"}
	}
	return ready, nil
}

func (c *Conn) checkOpen() error {
	if c.closed.Load() {
		return liberrors.ErrConnectionClosed{}
	}

	switch c.State() {
	case ConnStateConnected, ConnStateTunneled:
		return nil
	}
	return liberrors.ErrWrongState{Expected: ConnStateConnected.String(), Current: c.State().String()}
}

func (c *Conn) setReadDeadline(t time.Time) {
	c.mu.Lock()
	nc := c.readConn
	c.mu.Unlock()
	if nc != nil {
		nc.SetReadDeadline(t) //nolint:errcheck
	}
}

func (c *Conn) setWriteDeadline(t time.Time) {
	c.mu.Lock()
	nc := c.writeConn
	c.mu.Unlock()
	if nc != nil {
		nc.SetWriteDeadline(t) //nolint:errcheck
	}
}

func isHTTPMethod(m base.Method) bool {
	return m == base.Get || m == base.Post
}

func isTimeoutError(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// mapReadError classifies an error raised while parsing an incoming
// message.
func (c *Conn) mapReadError(err error) error {
	switch err.(type) {
	case liberrors.ErrMessageTooLarge, liberrors.ErrMalformedMessage,
		liberrors.ErrConnectionClosed, liberrors.ErrTimeout:
		return err
	}

	if c.closed.Load() || isClosedError(err) {
		return liberrors.ErrConnectionClosed{}
	}
	if isTimeoutError(err) {
		return liberrors.ErrTimeout{Op: "read"}
	}

	return liberrors.ErrMalformedMessage{Err: err}
}

func (c *Conn) mapWriteError(err error) error {
	return c.mapIOError("write", err)
}

// mapIOError classifies a transport-level error.
func (c *Conn) mapIOError(op string, err error) error {
	switch err.(type) {
	case liberrors.ErrMessageTooLarge, liberrors.ErrMalformedMessage,
		liberrors.ErrConnectionClosed, liberrors.ErrTimeout:
		return err
	}

	if c.closed.Load() || isClosedError(err) {
		return liberrors.ErrConnectionClosed{}
	}
	if isTimeoutError(err) {
		return liberrors.ErrTimeout{Op: op}
	}

	return liberrors.ErrIO{Err: err}
}
