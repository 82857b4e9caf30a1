package base

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/mstream/rtspconn/pkg/liberrors"
)

// default ports, per scheme.
const (
	DefaultPortRTSP  = 554
	DefaultPortRTSPS = 322
	DefaultPortHTTP  = 80
)

// URL is a RTSP URL.
// This is basically an HTTP URL with additional schemes for secure and
// HTTP-tunneled variants.
type URL url.URL

// ParseURL parses a RTSP URL.
// Supported schemes are rtsp, rtsps (TLS), rtsph (tunneled over HTTP)
// and rtspsh (tunneled over HTTPS).
func ParseURL(s string) (*URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, liberrors.ErrInvalidURL{URL: s, Err: err}
	}

	switch u.Scheme {
	case "rtsp", "rtsps", "rtsph", "rtspsh":
	default:
		return nil, liberrors.ErrInvalidURL{URL: s, Err: fmt.Errorf("unsupported scheme '%s'", u.Scheme)}
	}

	if u.Host == "" {
		return nil, liberrors.ErrInvalidURL{URL: s, Err: fmt.Errorf("host is missing")}
	}

	return (*URL)(u), nil
}

// MustParseURL is like ParseURL but panics in case of errors.
func MustParseURL(s string) *URL {
	u, err := ParseURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String implements fmt.Stringer.
func (u *URL) String() string {
	return (*url.URL)(u).String()
}

// Clone clones a URL.
func (u *URL) Clone() *URL {
	return (*URL)(&url.URL{
		Scheme:     u.Scheme,
		Opaque:     u.Opaque,
		User:       u.User,
		Host:       u.Host,
		Path:       u.Path,
		RawPath:    u.RawPath,
		ForceQuery: u.ForceQuery,
		RawQuery:   u.RawQuery,
	})
}

// CloneWithoutCredentials clones a URL without its credentials.
func (u *URL) CloneWithoutCredentials() *URL {
	c := u.Clone()
	c.User = nil
	return c
}

// IsSecure reports whether the scheme requires a TLS handshake
// on the control channel.
func (u *URL) IsSecure() bool {
	return u.Scheme == "rtsps" || u.Scheme == "rtspsh"
}

// IsTunneled reports whether the scheme requires RTSP-over-HTTP tunneling.
func (u *URL) IsTunneled() bool {
	return u.Scheme == "rtsph" || u.Scheme == "rtspsh"
}

// DefaultPort returns the default port of the scheme, applied when the
// URL doesn't carry an explicit one.
func (u *URL) DefaultPort() int {
	switch u.Scheme {
	case "rtsps":
		return DefaultPortRTSPS

	case "rtsph", "rtspsh":
		return DefaultPortHTTP

	default:
		return DefaultPortRTSP
	}
}

// Hostname returns the host, without any port.
func (u *URL) Hostname() string {
	return (*url.URL)(u).Hostname()
}

// Port returns the port of the URL, or the scheme default when unspecified.
func (u *URL) Port() int {
	if p := (*url.URL)(u).Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err == nil {
			return port
		}
	}
	return u.DefaultPort()
}

// Addr returns the host:port pair the URL points to,
// applying the scheme default port when needed.
func (u *URL) Addr() string {
	return net.JoinHostPort(u.Hostname(), strconv.Itoa(u.Port()))
}

// Credentials returns the credentials embedded in the URL, if any.
func (u *URL) Credentials() (string, string, bool) {
	ui := (*url.URL)(u).User
	if ui == nil {
		return "", "", false
	}
	pass, _ := ui.Password()
	return ui.Username(), pass, true
}
