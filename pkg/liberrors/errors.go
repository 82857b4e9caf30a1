// Package liberrors contains all the errors returned by the library.
package liberrors

import (
	"fmt"
)

// ErrInvalidURL is returned when a RTSP URL cannot be parsed.
type ErrInvalidURL struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e ErrInvalidURL) Error() string {
	return fmt.Sprintf("invalid URL '%s': %v", e.URL, e.Err)
}

// ErrUnresolvableHost is returned when a host name cannot be resolved.
type ErrUnresolvableHost struct {
	Host string
	Err  error
}

// Error implements the error interface.
func (e ErrUnresolvableHost) Error() string {
	return fmt.Sprintf("unable to resolve host '%s': %v", e.Host, e.Err)
}

// ErrConnectTimeout is returned when a connection attempt exceeds its timeout.
type ErrConnectTimeout struct {
	Address string
}

// Error implements the error interface.
func (e ErrConnectTimeout) Error() string {
	return fmt.Sprintf("timed out while connecting to '%s'", e.Address)
}

// ErrConnectionRefused is returned when the peer refuses the connection.
type ErrConnectionRefused struct {
	Address string
}

// Error implements the error interface.
func (e ErrConnectionRefused) Error() string {
	return fmt.Sprintf("connection to '%s' refused", e.Address)
}

// ErrCertificateRejected is returned when the peer certificate fails
// validation and no accept callback overrides the decision.
type ErrCertificateRejected struct {
	Reason string
}

// Error implements the error interface.
func (e ErrCertificateRejected) Error() string {
	return fmt.Sprintf("peer certificate rejected: %s", e.Reason)
}

// ErrTimeout is returned when an I/O operation exceeds its timeout.
type ErrTimeout struct {
	Op string
}

// Error implements the error interface.
func (e ErrTimeout) Error() string {
	return fmt.Sprintf("%s timed out", e.Op)
}

// ErrConnectionClosed is returned when operating on a closed connection.
type ErrConnectionClosed struct{}

// Error implements the error interface.
func (e ErrConnectionClosed) Error() string {
	return "connection is closed"
}

// ErrIO wraps an underlying transport error.
type ErrIO struct {
	Err error
}

// Error implements the error interface.
func (e ErrIO) Error() string {
	return fmt.Sprintf("i/o error: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrIO) Unwrap() error {
	return e.Err
}

// ErrMessageTooLarge is returned when a message body exceeds the
// configured content-length limit.
type ErrMessageTooLarge struct {
	Length int64
	Limit  int64
}

// Error implements the error interface.
func (e ErrMessageTooLarge) Error() string {
	return fmt.Sprintf("content length %d exceeds limit %d", e.Length, e.Limit)
}

// ErrMalformedMessage is returned when an incoming message cannot be parsed.
type ErrMalformedMessage struct {
	Err error
}

// Error implements the error interface.
func (e ErrMalformedMessage) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e ErrMalformedMessage) Unwrap() error {
	return e.Err
}

// ErrUnsupportedAuthMethod is returned when no authentication challenge
// sent by the server matches the configured credentials.
type ErrUnsupportedAuthMethod struct {
	Header string
}

// Error implements the error interface.
func (e ErrUnsupportedAuthMethod) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("unsupported authentication method (%s)", e.Header)
	}
	return "unsupported authentication method"
}

// ErrTunnelHandshake is returned when the HTTP handshake of a tunneled
// connection is rejected by the peer.
type ErrTunnelHandshake struct {
	StatusCode    int
	StatusMessage string
}

// Error implements the error interface.
func (e ErrTunnelHandshake) Error() string {
	return fmt.Sprintf("tunnel handshake rejected with code %d (%s)", e.StatusCode, e.StatusMessage)
}

// ErrTunnelIDMismatch is returned when pairing two tunnel connections
// that carry different tunnel IDs.
type ErrTunnelIDMismatch struct {
	ID1 string
	ID2 string
}

// Error implements the error interface.
func (e ErrTunnelIDMismatch) Error() string {
	return fmt.Sprintf("tunnel ID mismatch ('%s' vs '%s')", e.ID1, e.ID2)
}

// ErrWrongState is returned when an operation is attempted in a
// state that does not allow it.
type ErrWrongState struct {
	Expected string
	Current  string
}

// Error implements the error interface.
func (e ErrWrongState) Error() string {
	return fmt.Sprintf("must be in state %s, while in state %s", e.Expected, e.Current)
}

// ErrAlreadyTunneled is returned when pairing a connection that has
// already been fused into a tunnel pair.
type ErrAlreadyTunneled struct{}

// Error implements the error interface.
func (e ErrAlreadyTunneled) Error() string {
	return "connection is already part of a tunnel pair"
}
