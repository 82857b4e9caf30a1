package rtspconn

import (
	"net"
	"time"

	"github.com/mstream/rtspconn/pkg/liberrors"
)

// Accept waits for an incoming connection on the given listener and
// returns it in the connected state, ready for message exchange.
// Zero polls once without blocking and a negative timeout blocks
// indefinitely.
//
// The listener may carry TLS; the accepted socket is used as is.
func Accept(ln net.Listener, timeout time.Duration) (*Conn, error) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}

	if dl, ok := ln.(deadliner); ok {
		dl.SetDeadline(ioDeadline(timeout)) //nolint:errcheck
		defer dl.SetDeadline(time.Time{})   //nolint:errcheck
	}

	nconn, err := ln.Accept()
	if err != nil {
		if isTimeoutError(err) {
			return nil, liberrors.ErrTimeout{Op: "accept"}
		}
		if isClosedError(err) {
			return nil, liberrors.ErrConnectionClosed{}
		}
		return nil, liberrors.ErrIO{Err: err}
	}

	c := NewConnFromSocket(nconn, nil, nil)
	c.Connect(-1) //nolint:errcheck
	return c, nil
}
