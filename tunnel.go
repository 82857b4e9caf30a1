package rtspconn

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mstream/rtspconn/internal/base64streamreader"
	"github.com/mstream/rtspconn/pkg/base"
	"github.com/mstream/rtspconn/pkg/conn"
	"github.com/mstream/rtspconn/pkg/liberrors"
)

const (
	tunnelContentType = "application/x-rtsp-tunnelled"

	// nominal upstream body size announced in the POST handshake.
	// The channel actually stays open for the connection lifetime.
	tunnelPostContentLength = "30000"
)

// TunnelRole is the role of a connection inside a HTTP tunnel pair.
type TunnelRole int

// roles.
const (
	// TunnelRoleNone marks a connection that is not part of a tunnel.
	TunnelRoleNone TunnelRole = iota

	// TunnelRoleGet marks the downstream channel of a tunnel.
	TunnelRoleGet

	// TunnelRolePost marks the upstream channel of a tunnel.
	TunnelRolePost
)

// base64Writer encodes outgoing chunks with base64, the encoding of
// the upstream channel of a HTTP tunnel.
type base64Writer struct {
	w io.Writer
}

func (w *base64Writer) Write(p []byte) (int, error) {
	_, err := w.w.Write([]byte(base64.StdEncoding.EncodeToString(p)))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetTunneled forces HTTP tunneling on a connection whose URL scheme
// would not select it. It can be called in the init state only.
func (c *Conn) SetTunneled(v bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ConnStateInit {
		return liberrors.ErrWrongState{Expected: ConnStateInit.String(), Current: c.state.String()}
	}

	c.tunneled = v
	return nil
}

// IsTunneled reports whether the connection uses HTTP tunneling.
func (c *Conn) IsTunneled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tunneled || c.state == ConnStateTunneled
}

// TunnelID returns the tunnel identifier, that is the x-sessioncookie
// value shared by the two channels of a tunnel pair. It is empty on
// connections that are not tunneled.
func (c *Conn) TunnelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tunnelID
}

// TunnelRoleOf returns the tunnel role observed during the handshake.
func (c *Conn) TunnelRoleOf() TunnelRole {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tunnelRole
}

// connectTunnel opens the two channels of a client-side HTTP tunnel
// and performs the GET and POST handshakes.
func (c *Conn) connectTunnel(addr string, deadline time.Time) (*base.Response, error) {
	c.mu.Lock()
	if c.tunnelID == "" {
		c.tunnelID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	tunnelID := c.tunnelID
	c.mu.Unlock()

	var getConn, postConn net.Conn

	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		getConn, err = c.dial(addr, deadline)
		return err
	})
	g.Go(func() error {
		var err error
		postConn, err = c.dial(addr, deadline)
		return err
	})
	if err := g.Wait(); err != nil {
		closeIgnoring(getConn, postConn)
		return nil, err
	}

	closeBoth := func() { closeIgnoring(getConn, postConn) }

	var getRW net.Conn = getConn
	var postRW net.Conn = postConn

	if c.u.IsSecure() {
		tc, err := c.handshakeTLS(getConn, deadline)
		if err != nil {
			closeBoth()
			return nil, err
		}
		// TLS() exposes the handle of the downstream channel.
		c.tlsConn = tc
		getRW = tc

		postRW, err = c.handshakeTLS(postConn, deadline)
		if err != nil {
			closeBoth()
			return nil, err
		}
	}

	getConn.SetDeadline(deadline)  //nolint:errcheck
	postConn.SetDeadline(deadline) //nolint:errcheck

	// downstream channel
	err := c.writeTunnelHandshake(getRW, base.Get, tunnelID)
	if err != nil {
		closeBoth()
		return nil, c.mapIOError("write", err)
	}

	getBr := bufio.NewReader(getRW)
	res, err := readTunnelResponse(getBr)
	if err != nil {
		closeBoth()
		return nil, c.mapReadError(err)
	}

	if res.StatusCode != base.StatusOK {
		closeBoth()
		return nil, liberrors.ErrTunnelHandshake{
			StatusCode:    int(res.StatusCode),
			StatusMessage: res.StatusMessage,
		}
	}

	// some servers ask the upstream channel to target a different
	// address, through the X-Server-IP-Address header.
	if v, ok := res.Header["X-Server-Ip-Address"]; ok && len(v) == 1 {
		if c.ignoreXServerReply {
			c.Log.Debugf("ignoring tunnel redirect to '%s'", v[0])
		} else {
			_, port, _ := net.SplitHostPort(addr)
			redirAddr := net.JoinHostPort(v[0], port)
			if redirAddr != addr {
				postConn.Close() //nolint:errcheck

				postConn, err = c.dial(redirAddr, deadline)
				if err != nil {
					getConn.Close() //nolint:errcheck
					return nil, err
				}
				postRW = postConn
				if c.u.IsSecure() {
					postRW, err = c.handshakeTLS(postConn, deadline)
					if err != nil {
						closeBoth()
						return nil, err
					}
				}
				postConn.SetDeadline(deadline) //nolint:errcheck
			}
		}
	}

	// upstream channel
	err = c.writeTunnelHandshake(postRW, base.Post, tunnelID)
	if err != nil {
		closeBoth()
		return nil, c.mapIOError("write", err)
	}

	getConn.SetDeadline(time.Time{})  //nolint:errcheck
	postConn.SetDeadline(time.Time{}) //nolint:errcheck

	c.mu.Lock()
	c.readConn = getConn
	c.writeConn = postConn
	c.mu.Unlock()

	c.readSrc = getBr
	c.writeDst = &base64Writer{w: postRW}
	c.bw = bufio.NewWriter(c.writeDst)
	c.cc = conn.NewConn(readWriter{Reader: getBr, Writer: c.bw})
	c.cc.SetMaxContentLength(c.maxContentLength)

	if c.qosDSCP != 0 {
		if err := c.applyDSCP(); err != nil {
			c.Log.Warnf("unable to apply DSCP marking: %v", err)
		}
	}

	return res, nil
}

// writeTunnelHandshake sends the HTTP request that opens one channel
// of a tunnel.
func (c *Conn) writeTunnelHandshake(w io.Writer, method base.Method, tunnelID string) error {
	h := base.Header{
		"x-sessioncookie": base.HeaderValue{tunnelID},
		"Accept":          base.HeaderValue{tunnelContentType},
		"Pragma":          base.HeaderValue{"no-cache"},
		"Cache-Control":   base.HeaderValue{"no-cache"},
	}

	if method == base.Post {
		h["Content-Type"] = base.HeaderValue{tunnelContentType}
		h["Content-Length"] = base.HeaderValue{tunnelPostContentLength}
		h["Expires"] = base.HeaderValue{"Sun, 9 Jan 1972 00:00:00 GMT"}
	}

	for k, v := range c.extraHTTPHeaders {
		h[k] = v
	}

	req := base.Request{Method: method, URL: c.u, Header: h}

	buf, err := req.Marshal()
	if err != nil {
		return err
	}
	buf = bytes.Replace(buf, rtspProtoRequest, httpProtoRequest, 1)

	_, err = w.Write(buf)
	return err
}

// readTunnelResponse parses the HTTP response of the GET handshake.
// The response headers are consumed from the reader; the raw RTSP
// stream that follows stays buffered.
func readTunnelResponse(br *bufio.Reader) (*base.Response, error) {
	hres, err := http.ReadResponse(br, nil)
	if err != nil {
		return nil, err
	}

	res := &base.Response{
		StatusCode:    base.StatusCode(hres.StatusCode),
		StatusMessage: hres.Status,
		Header:        make(base.Header, len(hres.Header)),
	}
	if i := strings.IndexByte(res.StatusMessage, ' '); i >= 0 {
		res.StatusMessage = res.StatusMessage[i+1:]
	}
	for k, v := range hres.Header {
		res.Header[k] = base.HeaderValue(v)
	}

	return res, nil
}

// DoTunnel fuses a server-side tunnel pair. The receiver must have
// handled the GET handshake and c2 the POST handshake of the same
// tunnel ID. After pairing, the receiver reads upstream data from the
// socket of c2 and writes downstream data to its own socket, while c2
// is consumed and must only be released by its owner.
func (c *Conn) DoTunnel(c2 *Conn) error {
	c.mu.Lock()
	state1 := c.state
	id1 := c.tunnelID
	role1 := c.tunnelRole
	c.mu.Unlock()

	if state1 == ConnStateTunneled {
		return liberrors.ErrAlreadyTunneled{}
	}
	if state1 != ConnStateConnected {
		return liberrors.ErrWrongState{Expected: ConnStateConnected.String(), Current: state1.String()}
	}

	c2.mu.Lock()
	state2 := c2.state
	id2 := c2.tunnelID
	role2 := c2.tunnelRole
	c2.mu.Unlock()

	if state2 != ConnStateConnected {
		return liberrors.ErrWrongState{Expected: ConnStateConnected.String(), Current: state2.String()}
	}

	if id1 == "" || id2 == "" || id1 != id2 {
		return liberrors.ErrTunnelIDMismatch{ID1: id1, ID2: id2}
	}

	if role1 == TunnelRolePost || role2 == TunnelRoleGet {
		return liberrors.ErrWrongState{Expected: "get+post pair", Current: "reversed roles"}
	}

	// upstream bytes arrive base64-encoded on the socket of c2,
	// starting with whatever its framer has already buffered.
	upstream := base64streamreader.New(c2.cc.BufferedReader())

	c.mu.Lock()
	c.readConn = c2.readConn
	c.readSrc = upstream
	c.cc = conn.NewConn(readWriter{Reader: upstream, Writer: c.bw})
	c.cc.SetMaxContentLength(c.maxContentLength)
	c.tunneled = true
	c.tunnelRole = TunnelRoleGet
	c.state = ConnStateTunneled
	// the handshake phase is over, messages are RTSP from now on
	c.httpMode = false
	c.mu.Unlock()

	// c2 no longer owns its socket.
	c2.merged.Store(true)
	c2.closed.Store(true)
	c2.setState(ConnStateClosed)

	return nil
}

func closeIgnoring(conns ...net.Conn) {
	g := new(errgroup.Group)
	for _, nc := range conns {
		if nc == nil {
			continue
		}
		nc := nc
		g.Go(nc.Close)
	}
	g.Wait() //nolint:errcheck
}
