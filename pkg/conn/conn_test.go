package conn

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mstream/rtspconn/pkg/base"
	"github.com/mstream/rtspconn/pkg/liberrors"
)

func TestReadDispatch(t *testing.T) {
	for _, ca := range []struct {
		name string
		byts []byte
		msg  interface{}
	}{
		{
			"request",
			[]byte("OPTIONS rtsp://example.com/media.mp4 RTSP/1.0\r\n" +
				"CSeq: 1\r\n" +
				"\r\n"),
			&base.Request{
				Method: base.Options,
				URL:    base.MustParseURL("rtsp://example.com/media.mp4"),
				Header: base.Header{
					"CSeq": base.HeaderValue{"1"},
				},
			},
		},
		{
			"response",
			[]byte("RTSP/1.0 200 OK\r\n" +
				"CSeq: 1\r\n" +
				"\r\n"),
			&base.Response{
				StatusCode:    base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"CSeq": base.HeaderValue{"1"},
				},
			},
		},
		{
			"interleaved frame",
			[]byte{0x24, 0x06, 0x00, 0x04, 0x01, 0x02, 0x03, 0x04},
			&base.InterleavedFrame{
				Channel: 6,
				Payload: []byte{0x01, 0x02, 0x03, 0x04},
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var buf bytes.Buffer
			buf.Write(ca.byts)

			co := NewConn(&buf)
			msg, err := co.Read()
			require.NoError(t, err)
			require.Equal(t, ca.msg, msg)
		})
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	co := NewConn(&buf)

	err := co.WriteRequest(&base.Request{
		Method: base.Options,
		URL:    base.MustParseURL("rtsp://example.com/media.mp4"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	})
	require.NoError(t, err)

	err = co.WriteResponse(&base.Response{
		StatusCode:    base.StatusOK,
		StatusMessage: "OK",
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	})
	require.NoError(t, err)

	err = co.WriteInterleavedFrame(&base.InterleavedFrame{
		Channel: 6,
		Payload: []byte{0x01, 0x02, 0x03, 0x04},
	})
	require.NoError(t, err)

	require.Equal(t, []byte("OPTIONS rtsp://example.com/media.mp4 RTSP/1.0\r\n"+
		"CSeq: 1\r\n"+
		"\r\n"+
		"RTSP/1.0 200 OK\r\n"+
		"CSeq: 1\r\n"+
		"\r\n"+
		"\x24\x06\x00\x04\x01\x02\x03\x04"), buf.Bytes())
}

func TestReadMaxContentLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RTSP/1.0 200 OK\r\n" +
		"Content-Length: 1000000\r\n" +
		"\r\n")

	co := NewConn(&buf)
	co.SetMaxContentLength(2048)

	_, err := co.Read()
	require.Equal(t, liberrors.ErrMessageTooLarge{Length: 1000000, Limit: 2048}, err)
}

func TestSequentialReads(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n")
	buf.Write([]byte{0x24, 0x00, 0x00, 0x02, 0xaa, 0xbb})
	buf.WriteString("TEARDOWN rtsp://example.com/ RTSP/1.0\r\nCSeq: 2\r\n\r\n")

	co := NewConn(&buf)

	msg, err := co.Read()
	require.NoError(t, err)
	require.IsType(t, &base.Response{}, msg)

	msg, err = co.Read()
	require.NoError(t, err)
	require.IsType(t, &base.InterleavedFrame{}, msg)

	msg, err = co.Read()
	require.NoError(t, err)
	require.IsType(t, &base.Request{}, msg)
}
