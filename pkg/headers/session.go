package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mstream/rtspconn/pkg/base"
)

// Session is a Session header.
type Session struct {
	// session id
	Session string

	// (optional) keepalive timeout, in seconds
	Timeout *uint
}

// Unmarshal decodes a Session header.
func (h *Session) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	parts := strings.Split(v[0], ";")

	h.Session = parts[0]

	for _, part := range parts[1:] {
		part = strings.TrimLeft(part, " ")

		if timeoutStr, ok := strings.CutPrefix(part, "timeout="); ok {
			tmp, err := strconv.ParseUint(timeoutStr, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid timeout (%s)", timeoutStr)
			}
			timeout := uint(tmp)
			h.Timeout = &timeout
		}
	}

	return nil
}

// Marshal encodes a Session header.
func (h Session) Marshal() base.HeaderValue {
	ret := h.Session

	if h.Timeout != nil {
		ret += ";timeout=" + strconv.FormatUint(uint64(*h.Timeout), 10)
	}

	return base.HeaderValue{ret}
}
