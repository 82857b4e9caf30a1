package auth

import (
	"strings"

	"github.com/mstream/rtspconn/pkg/base"
	"github.com/mstream/rtspconn/pkg/headers"
	"github.com/mstream/rtspconn/pkg/liberrors"
)

// Sender allows to send credentials.
// It requires a WWW-Authenticate or Proxy-Authenticate header (provided
// by the server) and a set of credentials.
type Sender struct {
	WWWAuth base.HeaderValue
	User    string
	Pass    string

	// constrains which challenge kinds may be answered.
	// It defaults to MethodAny.
	Method Method

	// additional authentication parameters, applied on top of the
	// parsed challenge (e.g. "realm", "opaque").
	Params map[string]string

	authHeader *headers.Authenticate
}

// Initialize parses the challenges and selects the strongest usable one
// (SHA-256 digest, then MD5 digest, then basic).
func (se *Sender) Initialize() error {
	for _, v := range se.WWWAuth {
		var auth headers.Authenticate
		err := auth.Unmarshal(base.HeaderValue{v})
		if err != nil {
			continue // ignore unrecognized challenges
		}

		switch se.Method {
		case MethodBasic:
			if auth.Method != headers.AuthBasic {
				continue
			}

		case MethodDigest:
			if auth.Method == headers.AuthBasic {
				continue
			}
		}

		if se.authHeader == nil ||
			(auth.Method == headers.AuthDigestSHA256) ||
			(se.authHeader.Method == headers.AuthBasic && auth.Method != headers.AuthBasic) {
			se.authHeader = &auth
		}
	}

	if se.authHeader == nil {
		return liberrors.ErrUnsupportedAuthMethod{Header: strings.Join(se.WWWAuth, ", ")}
	}

	if realm, ok := se.Params["realm"]; ok {
		se.authHeader.Realm = realm
	}
	if opaque, ok := se.Params["opaque"]; ok {
		se.authHeader.Opaque = &opaque
	}

	return nil
}

// Ready reports whether a challenge has been selected.
func (se *Sender) Ready() bool {
	return se.authHeader != nil
}

// Reset forgets the selected challenge and any accumulated digest state,
// without touching the credentials.
func (se *Sender) Reset() {
	se.authHeader = nil
}

// AddAuthorization adds the Authorization header to a Request.
func (se *Sender) AddAuthorization(req *base.Request) {
	if se.authHeader == nil {
		return
	}

	urStr := req.URL.CloneWithoutCredentials().String()

	h := headers.Authorization{
		Method: se.authHeader.Method,
	}

	if se.authHeader.Method == headers.AuthBasic {
		h.BasicUser = se.User
		h.BasicPass = se.Pass
	} else { // digest
		h.Username = se.User
		h.Realm = se.authHeader.Realm
		h.Nonce = se.authHeader.Nonce
		h.URI = urStr
		h.Opaque = se.authHeader.Opaque

		if se.authHeader.Method == headers.AuthDigestMD5 {
			h.Response = md5Hex(md5Hex(se.User+":"+se.authHeader.Realm+":"+se.Pass) + ":" +
				se.authHeader.Nonce + ":" + md5Hex(string(req.Method)+":"+urStr))
		} else { // SHA-256
			h.Response = sha256Hex(sha256Hex(se.User+":"+se.authHeader.Realm+":"+se.Pass) + ":" +
				se.authHeader.Nonce + ":" + sha256Hex(string(req.Method)+":"+urStr))
		}
	}

	if req.Header == nil {
		req.Header = make(base.Header)
	}

	req.Header["Authorization"] = h.Marshal()
}
