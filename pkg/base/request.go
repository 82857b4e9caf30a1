package base

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/mstream/rtspconn/pkg/liberrors"
)

const (
	rtspProtocol10           = "RTSP/1.0"
	requestMaxMethodLength   = 64
	requestMaxURLLength      = 2048
	requestMaxProtocolLength = 64
)

// Method is the method of a RTSP request.
type Method string

// methods.
const (
	Announce     Method = "ANNOUNCE"
	Describe     Method = "DESCRIBE"
	GetParameter Method = "GET_PARAMETER"
	Options      Method = "OPTIONS"
	Pause        Method = "PAUSE"
	Play         Method = "PLAY"
	Record       Method = "RECORD"
	Setup        Method = "SETUP"
	SetParameter Method = "SET_PARAMETER"
	Teardown     Method = "TEARDOWN"

	// HTTP methods, observed only during tunnel handshakes.
	Get  Method = "GET"
	Post Method = "POST"
)

// Request is a RTSP request.
type Request struct {
	// request method
	Method Method

	// request url
	URL *URL

	// map of header values
	Header Header

	// optional body
	Body []byte
}

// Unmarshal reads a request.
func (req *Request) Unmarshal(rb *bufio.Reader) error {
	return req.UnmarshalLimit(rb, DefaultMaxContentLength)
}

// UnmarshalLimit reads a request, capping the body at bodyLimit bytes.
func (req *Request) UnmarshalLimit(rb *bufio.Reader, bodyLimit int64) error {
	byts, err := readBytesLimited(rb, ' ', requestMaxMethodLength)
	if err != nil {
		return err
	}
	req.Method = Method(byts[:len(byts)-1])

	if req.Method == "" {
		return liberrors.ErrMalformedMessage{Err: fmt.Errorf("empty method")}
	}

	byts, err = readBytesLimited(rb, ' ', requestMaxURLLength)
	if err != nil {
		return err
	}
	rawURL := string(byts[:len(byts)-1])

	ur, err := ParseURL(rawURL)
	if err != nil {
		return liberrors.ErrMalformedMessage{Err: fmt.Errorf("invalid URL (%v)", rawURL)}
	}
	req.URL = ur

	byts, err = readBytesLimited(rb, '\r', requestMaxProtocolLength)
	if err != nil {
		return err
	}
	proto := string(byts[:len(byts)-1])

	if proto != rtspProtocol10 {
		return liberrors.ErrMalformedMessage{Err: fmt.Errorf("expected '%s', got '%s'", rtspProtocol10, proto)}
	}

	err = readByteEqual(rb, '\n')
	if err != nil {
		return err
	}

	err = req.Header.unmarshal(rb)
	if err != nil {
		return err
	}

	return (*body)(&req.Body).unmarshal(req.Header, rb, bodyLimit)
}

// MarshalSize returns the size of a Request.
func (req Request) MarshalSize() int {
	n := 0

	urStr := req.URL.CloneWithoutCredentials().String()
	n += len(string(req.Method) + " " + urStr + " " + rtspProtocol10 + "\r\n")

	if len(req.Body) != 0 {
		req.Header["Content-Length"] = HeaderValue{strconv.FormatInt(int64(len(req.Body)), 10)}
	}

	n += req.Header.marshalSize()

	n += body(req.Body).marshalSize()

	return n
}

// MarshalTo writes a Request.
func (req Request) MarshalTo(buf []byte) (int, error) {
	pos := 0

	urStr := req.URL.CloneWithoutCredentials().String()
	pos += copy(buf[pos:], string(req.Method)+" "+urStr+" "+rtspProtocol10+"\r\n")

	if len(req.Body) != 0 {
		req.Header["Content-Length"] = HeaderValue{strconv.FormatInt(int64(len(req.Body)), 10)}
	}

	pos += req.Header.marshalTo(buf[pos:])

	pos += body(req.Body).marshalTo(buf[pos:])

	return pos, nil
}

// Marshal writes a Request.
func (req Request) Marshal() ([]byte, error) {
	buf := make([]byte, req.MarshalSize())
	_, err := req.MarshalTo(buf)
	return buf, err
}

// String implements fmt.Stringer.
func (req Request) String() string {
	buf, _ := req.Marshal()
	return string(buf)
}
