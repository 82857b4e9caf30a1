package rtspconn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mstream/rtspconn/pkg/base"
	"github.com/mstream/rtspconn/pkg/liberrors"
)

func generateCert(t *testing.T) (tls.Certificate, *x509.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "testserver"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, leaf
}

// tlsLoopbackServer runs a TLS listener that drives handshakes and
// discards incoming data.
func tlsLoopbackServer(t *testing.T, cert tls.Certificate) (string, func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tln := tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
	})

	go func() {
		for {
			nconn, err2 := tln.Accept()
			if err2 != nil {
				return
			}
			go func(nconn net.Conn) {
				defer nconn.Close()
				io.Copy(io.Discard, nconn) //nolint:errcheck
			}(nconn)
		}
	}()

	return ln.Addr().String(), func() { tln.Close() } //nolint:errcheck
}

func TestTLSConnectRejectedUnknownCA(t *testing.T) {
	cert, _ := generateCert(t)
	addr, stop := tlsLoopbackServer(t, cert)
	defer stop()

	cconn := NewConn(base.MustParseURL("rtsps://" + addr + "/stream"))
	cconn.SetTLSValidationFlags(TLSValidateUnknownCA)

	err := cconn.Connect(2 * time.Second)
	require.IsType(t, liberrors.ErrCertificateRejected{}, err)
	require.True(t, strings.Contains(err.Error(), "unknown-ca"))
	require.Equal(t, ConnStateFailed, cconn.State())
}

func TestTLSConnectDeciderOverride(t *testing.T) {
	cert, leaf := generateCert(t)
	addr, stop := tlsLoopbackServer(t, cert)
	defer stop()

	deciderCalled := false

	cconn := NewConn(base.MustParseURL("rtsps://" + addr + "/stream"))
	cconn.SetTLSValidationFlags(TLSValidateAll)
	cconn.SetAcceptCertificateFunc(CertificateDeciderFunc(
		func(cert *x509.Certificate, failures TLSValidationFlags) bool {
			deciderCalled = true
			require.Equal(t, leaf.SerialNumber, cert.SerialNumber)
			require.NotZero(t, failures&TLSValidateUnknownCA)
			return true
		}))

	err := cconn.Connect(2 * time.Second)
	require.NoError(t, err)
	defer cconn.Close()

	require.True(t, deciderCalled)
	require.Equal(t, ConnStateConnected, cconn.State())
	require.NotNil(t, cconn.TLS())
}

func TestTLSConnectDeciderReject(t *testing.T) {
	cert, _ := generateCert(t)
	addr, stop := tlsLoopbackServer(t, cert)
	defer stop()

	cconn := NewConn(base.MustParseURL("rtsps://" + addr + "/stream"))
	cconn.SetTLSValidationFlags(TLSValidateAll)
	cconn.SetAcceptCertificateFunc(CertificateDeciderFunc(
		func(*x509.Certificate, TLSValidationFlags) bool {
			return false
		}))

	err := cconn.Connect(2 * time.Second)
	require.IsType(t, liberrors.ErrCertificateRejected{}, err)
}

func TestTLSConnectTrustedDatabase(t *testing.T) {
	cert, leaf := generateCert(t)
	addr, stop := tlsLoopbackServer(t, cert)
	defer stop()

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	cconn := NewConn(base.MustParseURL("rtsps://" + addr + "/stream"))
	cconn.SetTLSValidationFlags(TLSValidateAll)
	cconn.SetTLSDatabase(pool)
	require.Equal(t, pool, cconn.TLSDatabase())

	err := cconn.Connect(2 * time.Second)
	require.NoError(t, err)
	defer cconn.Close()

	require.NotNil(t, cconn.TLS())
}

func TestTLSConnectNoEnforcedChecks(t *testing.T) {
	cert, _ := generateCert(t)
	addr, stop := tlsLoopbackServer(t, cert)
	defer stop()

	cconn := NewConn(base.MustParseURL("rtsps://" + addr + "/stream"))

	err := cconn.Connect(2 * time.Second)
	require.NoError(t, err)
	defer cconn.Close()

	require.Equal(t, ConnStateConnected, cconn.State())
}

func TestTLSValidationFlagsString(t *testing.T) {
	require.Equal(t, "none", TLSValidationFlags(0).String())
	require.Equal(t, "unknown-ca|expired",
		(TLSValidateUnknownCA | TLSValidateExpired).String())
}
