package rtspconn

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mstream/rtspconn/pkg/base"
	"github.com/mstream/rtspconn/pkg/liberrors"
)

// wsSubprotocol is the subprotocol of RTSP-over-WebSocket tunnels,
// defined by the ONVIF streaming specification.
const wsSubprotocol = "rtsp.onvif.org"

// wsReader joins the payloads of incoming WebSocket messages into a
// byte stream.
type wsReader struct {
	wc  *websocket.Conn
	cur io.Reader
}

func (r *wsReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			_, cur, err := r.wc.NextReader()
			if err != nil {
				return 0, err
			}
			r.cur = cur
		}

		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

// wsWriter sends each chunk as a binary WebSocket message.
type wsWriter struct {
	wc *websocket.Conn
}

func (w wsWriter) Write(p []byte) (int, error) {
	err := w.wc.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// ConnectWebSocket opens the connection through a RTSP-over-WebSocket
// tunnel instead of a plain TCP channel. It can be called in the init
// state only, as an alternative to Connect.
func (c *Conn) ConnectWebSocket(timeout time.Duration) error {
	c.mu.Lock()
	if c.state != ConnStateInit {
		state := c.state
		c.mu.Unlock()
		return liberrors.ErrWrongState{Expected: ConnStateInit.String(), Current: state.String()}
	}
	c.state = ConnStateConnecting
	c.mu.Unlock()

	err := c.connectWebSocketInner(timeout)
	if err != nil {
		c.setState(ConnStateFailed)
		return err
	}

	c.setState(ConnStateConnected)
	c.ResetTimeout() //nolint:errcheck
	return nil
}

func (c *Conn) connectWebSocketInner(timeout time.Duration) error {
	if c.u == nil {
		return liberrors.ErrInvalidURL{URL: "", Err: errMissingURL}
	}

	scheme := "ws"
	if c.u.IsSecure() {
		scheme = "wss"
	}

	wu := &base.URL{
		Scheme:   scheme,
		Host:     c.u.Addr(),
		Path:     c.u.Path,
		RawQuery: c.u.RawQuery,
	}

	d := websocket.Dialer{
		Subprotocols: []string{wsSubprotocol},
	}
	if timeout > 0 {
		d.HandshakeTimeout = timeout
	}
	if c.u.IsSecure() {
		d.TLSClientConfig = c.policy.tlsConfig(c.u.Hostname())
	}

	hdr := make(http.Header, len(c.extraHTTPHeaders))
	for k, v := range c.extraHTTPHeaders {
		hdr[k] = v
	}

	wc, res, err := d.Dial(wu.String(), hdr)
	if err != nil {
		if res != nil {
			return liberrors.ErrTunnelHandshake{StatusCode: res.StatusCode, StatusMessage: res.Status}
		}
		return c.mapIOError("connect", err)
	}

	c.attachWebSocket(wc)
	return nil
}

// NewConnFromWebSocket allocates a Conn in the init state around an
// accepted WebSocket tunnel. A following Connect completes
// immediately, without network activity.
func NewConnFromWebSocket(wc *websocket.Conn, u *base.URL) *Conn {
	c := NewConn(u)
	c.attachWebSocket(wc)
	return c
}

func (c *Conn) attachWebSocket(wc *websocket.Conn) {
	nconn := wc.UnderlyingConn()

	c.mu.Lock()
	c.readConn = nconn
	c.writeConn = nconn
	c.tunneled = true
	c.mu.Unlock()

	c.readSrc = &wsReader{wc: wc}
	c.writeDst = wsWriter{wc: wc}
	c.setupTransport(c.readSrc, c.writeDst, nil)
}
