package headers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mstream/rtspconn/pkg/base"
)

func stringPtr(v string) *string {
	return &v
}

var casesAuthenticate = []struct {
	name string
	vin  base.HeaderValue
	vout base.HeaderValue
	h    Authenticate
}{
	{
		"basic",
		base.HeaderValue{`Basic realm="4419b63f5e51"`},
		base.HeaderValue{`Basic realm="4419b63f5e51"`},
		Authenticate{
			Method: AuthBasic,
			Realm:  "4419b63f5e51",
		},
	},
	{
		"digest md5 implicit",
		base.HeaderValue{`Digest realm="4419b63f5e51", nonce="8b84a3b789283a8bea8da7fa7d41f08b", stale="FALSE"`},
		base.HeaderValue{`Digest realm="4419b63f5e51", nonce="8b84a3b789283a8bea8da7fa7d41f08b", stale="FALSE", algorithm="MD5"`},
		Authenticate{
			Method: AuthDigestMD5,
			Realm:  "4419b63f5e51",
			Nonce:  "8b84a3b789283a8bea8da7fa7d41f08b",
			Stale:  stringPtr("FALSE"),
		},
	},
	{
		"digest md5 explicit",
		base.HeaderValue{`Digest realm="4419b63f5e51", nonce="8b84a3b789283a8bea8da7fa7d41f08b", algorithm="MD5"`},
		base.HeaderValue{`Digest realm="4419b63f5e51", nonce="8b84a3b789283a8bea8da7fa7d41f08b", algorithm="MD5"`},
		Authenticate{
			Method: AuthDigestMD5,
			Realm:  "4419b63f5e51",
			Nonce:  "8b84a3b789283a8bea8da7fa7d41f08b",
		},
	},
	{
		"digest sha256",
		base.HeaderValue{`Digest realm="IP Camera(AB705)", nonce="f0f1a69e6e6c1ebb334d1070ced11c53", opaque="", algorithm="SHA-256"`},
		base.HeaderValue{`Digest realm="IP Camera(AB705)", nonce="f0f1a69e6e6c1ebb334d1070ced11c53", opaque="", algorithm="SHA-256"`},
		Authenticate{
			Method: AuthDigestSHA256,
			Realm:  "IP Camera(AB705)",
			Nonce:  "f0f1a69e6e6c1ebb334d1070ced11c53",
			Opaque: stringPtr(""),
		},
	},
}

func TestAuthenticateUnmarshal(t *testing.T) {
	for _, ca := range casesAuthenticate {
		t.Run(ca.name, func(t *testing.T) {
			var h Authenticate
			err := h.Unmarshal(ca.vin)
			require.NoError(t, err)
			require.Equal(t, ca.h, h)
		})
	}
}

func TestAuthenticateMarshal(t *testing.T) {
	for _, ca := range casesAuthenticate {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.vout, ca.h.Marshal())
		})
	}
}

func TestAuthenticateUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		v    base.HeaderValue
	}{
		{
			"empty",
			base.HeaderValue{},
		},
		{
			"provided multiple times",
			base.HeaderValue{"a", "b"},
		},
		{
			"invalid method",
			base.HeaderValue{`Bearer token="abc"`},
		},
		{
			"basic without realm",
			base.HeaderValue{`Basic charset="UTF-8"`},
		},
		{
			"digest without nonce",
			base.HeaderValue{`Digest realm="4419b63f5e51"`},
		},
		{
			"digest with invalid algorithm",
			base.HeaderValue{`Digest realm="a", nonce="b", algorithm="MD4"`},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var h Authenticate
			err := h.Unmarshal(ca.v)
			require.Error(t, err)
		})
	}
}
