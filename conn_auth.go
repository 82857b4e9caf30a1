package rtspconn

import (
	"github.com/mstream/rtspconn/pkg/auth"
	"github.com/mstream/rtspconn/pkg/base"
)

// SetAuth configures the credentials used to answer authentication
// challenges. With MethodAny, the strongest mechanism offered by the
// peer is picked.
//
// Credentials take effect on the next challenge; a challenge already
// answered is not recomputed.
func (c *Conn) SetAuth(method auth.Method, user string, pass string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.authMethod = method
	c.authUser = user
	c.authPass = pass
	c.authSet = true
	c.authSender = nil
}

// SetAuthParam sets a manual authentication parameter, overriding the
// value carried by the challenge. Used with servers whose challenges
// are incomplete or wrong.
func (c *Conn) SetAuthParam(name string, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.authParams[name] = value
	c.authSender = nil
}

// ClearAuthParams removes every manual authentication parameter.
func (c *Conn) ClearAuthParams() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.authParams = make(map[string]string)
	c.authSender = nil
}

// shouldRetryAuth decides whether a response triggers the transparent
// authentication retry, building the challenge answer when it does.
// At most one retry is performed per request.
func (c *Conn) shouldRetryAuth(res *base.Response) (bool, error) {
	if res.StatusCode != base.StatusUnauthorized &&
		res.StatusCode != base.StatusProxyAuthRequired {
		return false, nil
	}

	hkey := "WWW-Authenticate"
	if res.StatusCode == base.StatusProxyAuthRequired {
		hkey = "Proxy-Authenticate"
	}

	// a rejection without a challenge cannot be answered and must not
	// consume the retry budget.
	challenge := res.Header[hkey]
	if len(challenge) == 0 {
		return false, nil
	}

	c.mu.Lock()
	ok := c.authSet && !c.authRetried && c.lastRequest != nil
	if ok {
		c.authRetried = true
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}

	return true, c.setupAuthSender(challenge)
}

func (c *Conn) setupAuthSender(challenge base.HeaderValue) error {
	c.mu.Lock()
	params := make(map[string]string, len(c.authParams))
	for k, v := range c.authParams {
		params[k] = v
	}
	se := &auth.Sender{
		WWWAuth: challenge,
		User:    c.authUser,
		Pass:    c.authPass,
		Method:  c.authMethod,
		Params:  params,
	}
	c.mu.Unlock()

	if err := se.Initialize(); err != nil {
		return err
	}

	c.mu.Lock()
	c.authSender = se
	c.mu.Unlock()
	return nil
}
