package rtspconn

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mstream/rtspconn/internal/base64streamreader"
	"github.com/mstream/rtspconn/pkg/base"
	"github.com/mstream/rtspconn/pkg/liberrors"
)

// tcpPair opens a loopback socket pair.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn)
	go func() {
		nconn, _ := ln.Accept()
		accepted <- nconn
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	return dialed, <-accepted
}

// tunnelServerConn turns a raw socket into a server-side connection
// that has parsed the given tunnel handshake.
func tunnelServerConn(t *testing.T, nconn net.Conn, peer net.Conn, handshake string) *Conn {
	t.Helper()

	co := NewConnFromSocket(nconn, nil, nil)
	require.NoError(t, co.Connect(-1))
	co.SetHTTPMode(true)

	_, err := peer.Write([]byte(handshake))
	require.NoError(t, err)

	msg, err := co.Receive(2 * time.Second)
	require.NoError(t, err)
	_, ok := msg.(*base.Request)
	require.True(t, ok)

	return co
}

func TestClientTunnelConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type tunnelChannel struct {
		nconn net.Conn
		br    *bufio.Reader
	}

	getCh := make(chan tunnelChannel, 1)
	postCh := make(chan tunnelChannel, 1)
	cookies := make(chan string, 2)

	go func() {
		for i := 0; i < 2; i++ {
			nconn, err2 := ln.Accept()
			if err2 != nil {
				return
			}

			go func(nconn net.Conn) {
				br := bufio.NewReader(nconn)
				hreq, err3 := http.ReadRequest(br)
				if err3 != nil {
					return
				}
				cookies <- hreq.Header.Get("x-sessioncookie")

				if hreq.Method == "GET" {
					nconn.Write([]byte("HTTP/1.0 200 OK\r\n" + //nolint:errcheck
						"Content-Type: application/x-rtsp-tunnelled\r\n" +
						"\r\n"))
					getCh <- tunnelChannel{nconn, br}
				} else {
					postCh <- tunnelChannel{nconn, br}
				}
			}(nconn)
		}
	}()

	cconn := NewConn(base.MustParseURL("rtsph://" + ln.Addr().String() + "/stream"))
	defer cconn.Close()

	res, err := cconn.ConnectWithResponse(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.True(t, cconn.IsTunneled())
	require.NotEmpty(t, cconn.TunnelID())
	require.NotEqual(t, cconn.ReadSocket(), cconn.WriteSocket())

	get := <-getCh
	post := <-postCh

	// both handshakes carry the same cookie
	require.Equal(t, <-cookies, <-cookies)

	// upstream: requests arrive base64-encoded on the POST channel
	err = cconn.Send(&base.Request{
		Method: base.Options,
		URL:    cconn.URL(),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	}, 2*time.Second)
	require.NoError(t, err)

	upstream := bufio.NewReader(base64streamreader.New(post.br))
	var req base.Request
	err = req.Unmarshal(upstream)
	require.NoError(t, err)
	require.Equal(t, base.Options, req.Method)

	// downstream: responses travel raw on the GET channel
	buf, err := base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"CSeq": base.HeaderValue{"1"}},
	}.Marshal()
	require.NoError(t, err)
	_, err = get.nconn.Write(buf)
	require.NoError(t, err)

	msg, err := cconn.Receive(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, msg.(*base.Response).StatusCode)
}

func TestClientTunnelSecure(t *testing.T) {
	cert, _ := generateCert(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	tln := tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
	})

	go func() {
		for i := 0; i < 2; i++ {
			nconn, err2 := tln.Accept()
			if err2 != nil {
				return
			}
			go func(nconn net.Conn) {
				br := bufio.NewReader(nconn)
				hreq, err3 := http.ReadRequest(br)
				if err3 != nil {
					return
				}
				if hreq.Method == "GET" {
					nconn.Write([]byte("HTTP/1.0 200 OK\r\n" + //nolint:errcheck
						"Content-Type: application/x-rtsp-tunnelled\r\n" +
						"\r\n"))
				}
			}(nconn)
		}
	}()

	cconn := NewConn(base.MustParseURL("rtspsh://" + ln.Addr().String() + "/stream"))
	defer cconn.Close()

	err = cconn.Connect(2 * time.Second)
	require.NoError(t, err)
	require.True(t, cconn.IsTunneled())

	// the exposed secure-channel handle belongs to the downstream
	// channel, not to the upstream one
	require.NotNil(t, cconn.TLS())
	require.Equal(t, cconn.ReadSocket(), cconn.TLS().NetConn())
}

func TestClientTunnelHandshakeRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			nconn, err2 := ln.Accept()
			if err2 != nil {
				return
			}
			go func(nconn net.Conn) {
				defer nconn.Close()
				br := bufio.NewReader(nconn)
				hreq, err3 := http.ReadRequest(br)
				if err3 != nil || hreq.Method != "GET" {
					return
				}
				nconn.Write([]byte("HTTP/1.0 404 Not Found\r\n\r\n")) //nolint:errcheck
			}(nconn)
		}
	}()

	cconn := NewConn(base.MustParseURL("rtsph://" + ln.Addr().String() + "/stream"))
	err = cconn.Connect(2 * time.Second)
	require.Equal(t, liberrors.ErrTunnelHandshake{
		StatusCode:    404,
		StatusMessage: "Not Found",
	}, err)
	require.Equal(t, ConnStateFailed, cconn.State())
}

func TestDoTunnel(t *testing.T) {
	clientGet, serverGet := tcpPair(t)
	defer clientGet.Close()
	clientPost, serverPost := tcpPair(t)
	defer clientPost.Close()

	getConn := tunnelServerConn(t, serverGet, clientGet,
		"GET /stream HTTP/1.0\r\n"+
			"x-sessioncookie: 123abcdef\r\n"+
			"Accept: application/x-rtsp-tunnelled\r\n"+
			"\r\n")
	defer getConn.Close()
	require.Equal(t, "123abcdef", getConn.TunnelID())
	require.Equal(t, TunnelRoleGet, getConn.TunnelRoleOf())

	postConn := tunnelServerConn(t, serverPost, clientPost,
		"POST /stream HTTP/1.0\r\n"+
			"x-sessioncookie: 123abcdef\r\n"+
			"Content-Length: 30000\r\n"+
			"Content-Type: application/x-rtsp-tunnelled\r\n"+
			"\r\n")
	defer postConn.Close()
	require.Equal(t, TunnelRolePost, postConn.TunnelRoleOf())

	err := getConn.DoTunnel(postConn)
	require.NoError(t, err)
	require.Equal(t, ConnStateTunneled, getConn.State())
	require.True(t, getConn.IsTunneled())

	// pairing again is refused
	err = getConn.DoTunnel(postConn)
	require.Equal(t, liberrors.ErrAlreadyTunneled{}, err)

	// upstream: base64-encoded requests on the POST socket reach the
	// fused connection
	reqBuf, err := base.Request{
		Method: base.Options,
		URL:    base.MustParseURL("rtsp://localhost/stream"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	}.Marshal()
	require.NoError(t, err)

	_, err = clientPost.Write([]byte(base64.StdEncoding.EncodeToString(reqBuf)))
	require.NoError(t, err)

	msg, err := getConn.Receive(2 * time.Second)
	require.NoError(t, err)
	req := msg.(*base.Request)
	require.Equal(t, base.Options, req.Method)

	// downstream: responses leave raw on the GET socket
	err = getConn.Send(&base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"CSeq": base.HeaderValue{"1"}},
	}, 2*time.Second)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	n, err := clientGet.Read(buf)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(buf[:n]), "RTSP/1.0 200 OK\r\n"))
}

func TestDoTunnelIDMismatch(t *testing.T) {
	clientGet, serverGet := tcpPair(t)
	defer clientGet.Close()
	clientPost, serverPost := tcpPair(t)
	defer clientPost.Close()

	getConn := tunnelServerConn(t, serverGet, clientGet,
		"GET /stream HTTP/1.0\r\nx-sessioncookie: aaaa\r\n\r\n")
	defer getConn.Close()

	postConn := tunnelServerConn(t, serverPost, clientPost,
		"POST /stream HTTP/1.0\r\nx-sessioncookie: bbbb\r\nContent-Length: 30000\r\n\r\n")
	defer postConn.Close()

	err := getConn.DoTunnel(postConn)
	require.Equal(t, liberrors.ErrTunnelIDMismatch{ID1: "aaaa", ID2: "bbbb"}, err)
}

func TestDoTunnelReversedRoles(t *testing.T) {
	clientGet1, serverGet1 := tcpPair(t)
	defer clientGet1.Close()
	clientGet2, serverGet2 := tcpPair(t)
	defer clientGet2.Close()

	conn1 := tunnelServerConn(t, serverGet1, clientGet1,
		"GET /stream HTTP/1.0\r\nx-sessioncookie: aaaa\r\n\r\n")
	defer conn1.Close()

	conn2 := tunnelServerConn(t, serverGet2, clientGet2,
		"GET /stream HTTP/1.0\r\nx-sessioncookie: aaaa\r\n\r\n")
	defer conn2.Close()

	err := conn1.DoTunnel(conn2)
	require.Error(t, err)
}

func TestSetTunneled(t *testing.T) {
	cconn := NewConn(base.MustParseURL("rtsp://localhost:8554/stream"))
	require.False(t, cconn.IsTunneled())

	err := cconn.SetTunneled(true)
	require.NoError(t, err)
	require.True(t, cconn.IsTunneled())

	// scheme-selected tunneling
	cconn2 := NewConn(base.MustParseURL("rtsph://localhost/stream"))
	require.True(t, cconn2.IsTunneled())
}

func TestWebSocketTunnel(t *testing.T) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{wsSubprotocol},
		CheckOrigin:  func(*http.Request) bool { return true },
	}

	serverDone := make(chan struct{})
	testDone := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(serverDone)

		wc, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		sconn := NewConnFromWebSocket(wc, nil)
		require.NoError(t, sconn.Connect(-1))
		defer sconn.Close()

		msg, err := sconn.Receive(5 * time.Second)
		require.NoError(t, err)
		req := msg.(*base.Request)
		require.Equal(t, base.Options, req.Method)

		err = sconn.Send(&base.Response{
			StatusCode: base.StatusOK,
			Header:     base.Header{"CSeq": req.Header["CSeq"]},
		}, 5*time.Second)
		require.NoError(t, err)

		<-testDone
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")

	cconn := NewConn(base.MustParseURL("rtsp://" + addr + "/stream"))
	defer cconn.Close()

	err := cconn.ConnectWebSocket(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, ConnStateConnected, cconn.State())
	require.True(t, cconn.IsTunneled())

	err = cconn.Send(&base.Request{
		Method: base.Options,
		URL:    cconn.URL(),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	}, 2*time.Second)
	require.NoError(t, err)

	msg, err := cconn.Receive(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, msg.(*base.Response).StatusCode)

	close(testDone)
	<-serverDone
}
