package base

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/mstream/rtspconn/pkg/liberrors"
)

// DefaultMaxContentLength is the content-length limit applied when none
// is configured.
const DefaultMaxContentLength = 128 * 1024

type body []byte

func (b *body) unmarshal(header Header, rb *bufio.Reader, limit int64) error {
	cls, ok := header["Content-Length"]
	if !ok || len(cls) != 1 {
		*b = nil
		return nil
	}

	cl, err := strconv.ParseInt(cls[0], 10, 64)
	if err != nil || cl < 0 {
		return liberrors.ErrMalformedMessage{Err: fmt.Errorf("invalid Content-Length '%s'", cls[0])}
	}

	if cl > limit {
		return liberrors.ErrMessageTooLarge{Length: cl, Limit: limit}
	}

	*b = make([]byte, cl)
	n, err := io.ReadFull(rb, *b)
	if err != nil && n != len(*b) {
		return err
	}

	return nil
}

func (b body) marshalSize() int {
	return len(b)
}

func (b body) marshalTo(buf []byte) int {
	return copy(buf, b)
}
