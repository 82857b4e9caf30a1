// Package rtspconn implements the RTSP control-channel connection:
// establishment, authentication, HTTP tunneling and timeout-bounded
// message exchange.
package rtspconn

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/mstream/rtspconn/pkg/auth"
	"github.com/mstream/rtspconn/pkg/base"
	"github.com/mstream/rtspconn/pkg/conn"
	"github.com/mstream/rtspconn/pkg/liberrors"
)

const (
	defaultTimeout = 60 * time.Second

	// deadline applied when the caller asks for a non-blocking operation.
	pollOnceDeadline = time.Millisecond
)

var errMissingURL = errors.New("missing URL")

type readWriter struct {
	io.Reader
	io.Writer
}

// Conn is a RTSP connection. It owns exactly one transport channel
// (or a fused tunnel pair) for its whole lifetime.
//
// A Conn supports one concurrent reader plus one concurrent writer;
// Close may be called from any goroutine at any time.
type Conn struct {
	//
	// configuration
	//

	// destination of the connection.
	u *base.URL

	// logger. It defaults to logrus.StandardLogger().
	Log *logrus.Logger

	proxyHost string
	proxyPort int

	timeout          time.Duration
	maxContentLength int64
	qosDSCP          int

	httpMode           bool
	tunneled           bool
	rememberSessionID  bool
	ignoreXServerReply bool
	extraHTTPHeaders   base.Header

	policy tlsPolicy

	//
	// state
	//

	mu         sync.Mutex
	writeMu    sync.Mutex
	state      ConnState
	closed     atomic.Bool
	merged     atomic.Bool
	closeOnce  sync.Once
	ip         string
	sessionID  string
	tunnelID   string
	tunnelRole TunnelRole

	// raw sockets, before TLS wrapping. They differ only on tunneled
	// connections, where reads and writes travel on distinct sockets.
	readConn  net.Conn
	writeConn net.Conn

	// effective channels, after TLS wrapping and tunnel encoding.
	readSrc  io.Reader
	writeDst io.Writer
	tlsConn  *tls.Conn

	bw *bufio.Writer
	cc *conn.Conn

	initialBuffer []byte

	// authentication context
	authMethod  auth.Method
	authUser    string
	authPass    string
	authSet     bool
	authParams  map[string]string
	authSender  *auth.Sender
	authRetried bool
	lastRequest *base.Request

	lastActivity time.Time
}

// NewConn allocates a Conn in the init state, without opening a socket.
// Credentials embedded in the URL are picked up automatically.
func NewConn(u *base.URL) *Conn {
	c := &Conn{
		u:                 u,
		Log:               logrus.StandardLogger(),
		timeout:           defaultTimeout,
		maxContentLength:  base.DefaultMaxContentLength,
		rememberSessionID: true,
		state:             ConnStateInit,
		authParams:        make(map[string]string),
		lastActivity:      time.Now(),
	}

	if u != nil {
		if user, pass, ok := u.Credentials(); ok {
			c.authMethod = auth.MethodAny
			c.authUser = user
			c.authPass = pass
			c.authSet = true
		}

		if u.IsTunneled() {
			c.tunneled = true
		}
	}

	return c
}

// NewConnFromSocket allocates a Conn in the init state around a
// pre-existing socket, together with any bytes already read from it.
// A following Connect completes immediately, without network activity.
func NewConnFromSocket(nconn net.Conn, u *base.URL, initialBuffer []byte) *Conn {
	c := NewConn(u)
	c.readConn = nconn
	c.writeConn = nconn
	c.initialBuffer = initialBuffer
	if addr, ok := nconn.RemoteAddr().(*net.TCPAddr); ok {
		c.ip = addr.IP.String()
	}
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// URL returns the destination URL.
func (c *Conn) URL() *base.URL {
	return c.u
}

// IP returns the resolved remote IP address.
func (c *Conn) IP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ip
}

// SetIP overrides the remote IP address, skipping name resolution
// during connect.
func (c *Conn) SetIP(ip string) {
	c.mu.Lock()
	c.ip = ip
	c.mu.Unlock()
}

// ReadSocket returns the socket messages are read from.
func (c *Conn) ReadSocket() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readConn
}

// WriteSocket returns the socket messages are written to.
func (c *Conn) WriteSocket() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeConn
}

// TLS returns the secure-channel handle, for inspection only.
// It is nil when the connection is not secured.
func (c *Conn) TLS() *tls.Conn {
	return c.tlsConn
}

// SetProxy sets a proxy host and port that replace the URL host as the
// dial target.
func (c *Conn) SetProxy(host string, port int) {
	c.proxyHost = host
	c.proxyPort = port
}

// SetTimeout sets the inactivity timeout used by the NextTimeout
// bookkeeping. It defaults to 60 seconds.
func (c *Conn) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// SetContentLengthLimit caps the body size of incoming messages.
func (c *Conn) SetContentLengthLimit(v int64) {
	c.maxContentLength = v
	if c.cc != nil {
		c.cc.SetMaxContentLength(v)
	}
}

// SetQOSDSCP sets the DSCP marking of outgoing packets. When the
// connection is already established, the marking is applied at once,
// otherwise it is stored and applied during connect.
func (c *Conn) SetQOSDSCP(dscp int) error {
	c.qosDSCP = dscp

	switch c.State() {
	case ConnStateConnected, ConnStateTunneled:
		return c.applyDSCP()
	}
	return nil
}

func (c *Conn) applyDSCP() error {
	for _, nc := range []net.Conn{c.readConn, c.writeConn} {
		if nc == nil {
			continue
		}
		if _, ok := nc.(*net.TCPConn); !ok {
			continue
		}
		err := ipv4.NewConn(nc).SetTOS(c.qosDSCP << 2)
		if err != nil {
			return liberrors.ErrIO{Err: err}
		}
		if c.readConn == c.writeConn {
			break
		}
	}
	return nil
}

// SetHTTPMode makes Receive parse HTTP requests in addition to RTSP
// messages, and Send emit HTTP/1.0 start lines. Used on server-side
// connections that handle tunnel handshakes.
func (c *Conn) SetHTTPMode(v bool) {
	c.httpMode = v
}

// AddExtraHTTPRequestHeader injects a header into the HTTP requests of
// the client tunnel handshake.
func (c *Conn) AddExtraHTTPRequestHeader(key string, value string) {
	if c.extraHTTPHeaders == nil {
		c.extraHTTPHeaders = make(base.Header)
	}
	c.extraHTTPHeaders[key] = append(c.extraHTTPHeaders[key], value)
}

// SetRememberSessionID sets whether the session ID of the last response
// is stored and forced onto any following request. Enabled by default.
func (c *Conn) SetRememberSessionID(v bool) {
	c.mu.Lock()
	c.rememberSessionID = v
	c.mu.Unlock()
}

// RememberSessionID returns whether session IDs are being tracked.
func (c *Conn) RememberSessionID() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rememberSessionID
}

// SetIgnoreXServerReply sets whether the X-Server-IP-Address header of
// the tunnel GET response is ignored instead of redirecting the POST
// connection. Disabled by default.
func (c *Conn) SetIgnoreXServerReply(v bool) {
	c.ignoreXServerReply = v
}

// IgnoreXServerReply returns whether tunnel redirects are ignored.
func (c *Conn) IgnoreXServerReply() bool {
	return c.ignoreXServerReply
}

// SetTLSValidationFlags sets which certificate checks are enforced
// during the TLS handshake.
func (c *Conn) SetTLSValidationFlags(flags TLSValidationFlags) {
	c.policy.validationFlags = flags
}

// TLSValidationFlags returns the enforced certificate checks.
func (c *Conn) TLSValidationFlags() TLSValidationFlags {
	return c.policy.validationFlags
}

// SetTLSDatabase sets the trust roots used to validate peer
// certificates, overriding system defaults.
func (c *Conn) SetTLSDatabase(pool *x509.CertPool) {
	c.policy.database = pool
}

// TLSDatabase returns the trust roots used to validate peer
// certificates, or nil when system defaults apply.
func (c *Conn) TLSDatabase() *x509.CertPool {
	return c.policy.database
}

// SetAcceptCertificateFunc installs the decider invoked when the
// enforced validation checks would reject the peer certificate.
func (c *Conn) SetAcceptCertificateFunc(d CertificateDecider) {
	c.policy.decider = d
}

// Connect opens the transport channel and transitions the connection
// to the connected state, performing the TLS handshake and the tunnel
// handshakes when the scheme requires them.
func (c *Conn) Connect(timeout time.Duration) error {
	_, err := c.ConnectWithResponse(timeout)
	return err
}

// ConnectWithResponse is like Connect and additionally returns the
// first response observed during connect, that is the response to the
// tunnel GET request. It is nil when the connection is not tunneled.
func (c *Conn) ConnectWithResponse(timeout time.Duration) (*base.Response, error) {
	c.mu.Lock()
	if c.state != ConnStateInit {
		state := c.state
		c.mu.Unlock()
		return nil, liberrors.ErrWrongState{Expected: ConnStateInit.String(), Current: state.String()}
	}
	c.state = ConnStateConnecting
	c.mu.Unlock()

	res, err := c.connectInner(timeout)
	if err != nil {
		c.setState(ConnStateFailed)
		return nil, err
	}

	c.setState(ConnStateConnected)
	c.ResetTimeout() //nolint:errcheck
	return res, nil
}

func (c *Conn) connectInner(timeout time.Duration) (*base.Response, error) {
	// pre-existing socket, nothing to open.
	if c.readConn != nil {
		r := io.Reader(c.readConn)
		w := io.Writer(c.writeConn)
		if c.readSrc != nil {
			r = c.readSrc
		}
		if c.writeDst != nil {
			w = c.writeDst
		}
		c.setupTransport(r, w, c.initialBuffer)
		c.initialBuffer = nil
		return nil, nil
	}

	if c.u == nil {
		return nil, liberrors.ErrInvalidURL{URL: "", Err: errMissingURL}
	}

	deadline := ioDeadline(timeout)

	addr, err := c.resolveAddr(deadline)
	if err != nil {
		return nil, err
	}

	if c.tunneled {
		return c.connectTunnel(addr, deadline)
	}

	nconn, err := c.dial(addr, deadline)
	if err != nil {
		return nil, err
	}

	var rw net.Conn = nconn
	if c.u.IsSecure() {
		tc, err2 := c.handshakeTLS(nconn, deadline)
		if err2 != nil {
			nconn.Close() //nolint:errcheck
			return nil, err2
		}
		c.tlsConn = tc
		rw = tc
	}

	c.readConn = nconn
	c.writeConn = nconn
	c.setupTransport(rw, rw, nil)

	if c.qosDSCP != 0 {
		if err := c.applyDSCP(); err != nil {
			c.Log.Warnf("unable to apply DSCP marking: %v", err)
		}
	}

	return nil, nil
}

// resolveAddr turns the URL (or the proxy configuration) into a
// concrete host:port dial target.
func (c *Conn) resolveAddr(deadline time.Time) (string, error) {
	host := c.u.Hostname()
	port := c.u.Port()

	if c.proxyHost != "" {
		host = c.proxyHost
		port = c.proxyPort
	}

	c.mu.Lock()
	overridden := c.ip
	c.mu.Unlock()

	if overridden != "" {
		return net.JoinHostPort(overridden, strconv.Itoa(port)), nil
	}

	if ip := net.ParseIP(host); ip != nil {
		c.mu.Lock()
		c.ip = host
		c.mu.Unlock()
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	}

	ctx := context.Background()
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return "", liberrors.ErrUnresolvableHost{Host: host, Err: err}
	}

	c.mu.Lock()
	c.ip = addrs[0]
	c.mu.Unlock()

	return net.JoinHostPort(addrs[0], strconv.Itoa(port)), nil
}

func (c *Conn) dial(addr string, deadline time.Time) (net.Conn, error) {
	d := net.Dialer{Deadline: deadline}

	nconn, err := d.Dial("tcp", addr)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, liberrors.ErrConnectTimeout{Address: addr}
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, liberrors.ErrConnectionRefused{Address: addr}
		}
		return nil, liberrors.ErrIO{Err: err}
	}

	return nconn, nil
}

func (c *Conn) handshakeTLS(nconn net.Conn, deadline time.Time) (*tls.Conn, error) {
	serverName := ""
	if c.u != nil {
		serverName = c.u.Hostname()
	}

	tlsConn := tls.Client(nconn, c.policy.tlsConfig(serverName))

	nconn.SetDeadline(deadline) //nolint:errcheck
	err := tlsConn.Handshake()
	nconn.SetDeadline(time.Time{}) //nolint:errcheck

	if err != nil {
		var rejected liberrors.ErrCertificateRejected
		if errors.As(err, &rejected) {
			return nil, rejected
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, liberrors.ErrConnectTimeout{Address: nconn.RemoteAddr().String()}
		}
		return nil, liberrors.ErrIO{Err: err}
	}

	return tlsConn, nil
}

// setupTransport installs the message framing over the given read and
// write channels.
func (c *Conn) setupTransport(r io.Reader, w io.Writer, initialBuffer []byte) {
	if len(initialBuffer) != 0 {
		r = io.MultiReader(bytes.NewReader(initialBuffer), r)
	}

	c.readSrc = r
	c.writeDst = w
	c.bw = bufio.NewWriter(w)
	c.cc = conn.NewConn(readWriter{Reader: r, Writer: c.bw})
	c.cc.SetMaxContentLength(c.maxContentLength)
}

// Close tears the connection down and releases its socket(s).
// It is idempotent and safe to invoke concurrently with in-flight
// blocking calls, which fail promptly.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.setState(ConnStateClosing)
		c.closed.Store(true)

		if !c.merged.Load() {
			for _, nc := range []net.Conn{c.readConn, c.writeConn} {
				if nc == nil {
					continue
				}
				if err := nc.Close(); err != nil {
					c.Log.Warnf("unable to close socket: %v", err)
				}
				if c.readConn == c.writeConn {
					break
				}
			}
		}

		c.setState(ConnStateClosed)
	})

	return nil
}

// NextTimeout returns the time remaining before the connection must be
// considered inactive, given the configured timeout and the last
// successful exchange.
func (c *Conn) NextTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := time.Until(c.lastActivity.Add(c.timeout))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetTimeout restarts the inactivity timeout from now.
func (c *Conn) ResetTimeout() error {
	if c.closed.Load() {
		return liberrors.ErrConnectionClosed{}
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// ioDeadline converts a per-call timeout into an absolute deadline.
// Zero means poll once without blocking; a negative timeout blocks
// indefinitely.
func ioDeadline(timeout time.Duration) time.Time {
	switch {
	case timeout < 0:
		return time.Time{}

	case timeout == 0:
		return time.Now().Add(pollOnceDeadline)

	default:
		return time.Now().Add(timeout)
	}
}
