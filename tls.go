package rtspconn

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/mstream/rtspconn/pkg/liberrors"
)

// TLSValidationFlags is a bitset of certificate checks enforced during
// the TLS handshake. Only the checks whose flag is set can cause a
// connect to fail.
type TLSValidationFlags int

// validation flags.
const (
	// TLSValidateUnknownCA rejects certificates not signed by a trusted CA.
	TLSValidateUnknownCA TLSValidationFlags = 1 << iota

	// TLSValidateBadIdentity rejects certificates whose identity doesn't
	// match the expected host.
	TLSValidateBadIdentity

	// TLSValidateNotActivated rejects certificates whose activation time
	// is in the future.
	TLSValidateNotActivated

	// TLSValidateExpired rejects expired certificates.
	TLSValidateExpired

	// TLSValidateInsecure rejects certificates considered insecure.
	TLSValidateInsecure

	// TLSValidateGenericError rejects certificates that fail validation
	// for any other reason.
	TLSValidateGenericError

	// TLSValidateAll enables every check.
	TLSValidateAll = TLSValidateUnknownCA | TLSValidateBadIdentity |
		TLSValidateNotActivated | TLSValidateExpired |
		TLSValidateInsecure | TLSValidateGenericError
)

// String implements fmt.Stringer.
func (f TLSValidationFlags) String() string {
	var parts []string
	for _, e := range []struct {
		flag TLSValidationFlags
		name string
	}{
		{TLSValidateUnknownCA, "unknown-ca"},
		{TLSValidateBadIdentity, "bad-identity"},
		{TLSValidateNotActivated, "not-activated"},
		{TLSValidateExpired, "expired"},
		{TLSValidateInsecure, "insecure"},
		{TLSValidateGenericError, "generic-error"},
	} {
		if f&e.flag != 0 {
			parts = append(parts, e.name)
		}
	}
	if parts == nil {
		return "none"
	}
	return strings.Join(parts, "|")
}

// CertificateDecider takes the final accept/reject decision on a peer
// certificate that failed the enforced validation checks.
type CertificateDecider interface {
	// Decide is invoked once per handshake. Returning false rejects the
	// certificate and fails the connect.
	Decide(cert *x509.Certificate, failures TLSValidationFlags) bool
}

// CertificateDeciderFunc adapts a function to the CertificateDecider interface.
type CertificateDeciderFunc func(cert *x509.Certificate, failures TLSValidationFlags) bool

// Decide implements CertificateDecider.
func (f CertificateDeciderFunc) Decide(cert *x509.Certificate, failures TLSValidationFlags) bool {
	return f(cert, failures)
}

// tlsPolicy collects the certificate validation settings of a Conn.
type tlsPolicy struct {
	validationFlags TLSValidationFlags
	database        *x509.CertPool
	decider         CertificateDecider
}

// verify inspects the presented certificate chain and returns
// ErrCertificateRejected when the enforced checks fail and no decider
// overrides the outcome.
func (p *tlsPolicy) verify(serverName string, rawCerts [][]byte) error {
	if len(rawCerts) == 0 {
		return liberrors.ErrCertificateRejected{Reason: "no certificate presented"}
	}

	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return liberrors.ErrCertificateRejected{Reason: fmt.Sprintf("unparsable certificate: %v", err)}
		}
		certs[i] = cert
	}
	leaf := certs[0]

	var failures TLSValidationFlags

	now := time.Now()
	if now.Before(leaf.NotBefore) {
		failures |= TLSValidateNotActivated
	}
	if now.After(leaf.NotAfter) {
		failures |= TLSValidateExpired
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         p.database,
		Intermediates: intermediates,
		CurrentTime:   now,
	})
	if err != nil {
		switch err.(type) {
		case x509.UnknownAuthorityError:
			failures |= TLSValidateUnknownCA

		case x509.CertificateInvalidError:
			// expiry is checked separately above
			if failures&(TLSValidateExpired|TLSValidateNotActivated) == 0 {
				failures |= TLSValidateGenericError
			}

		default:
			failures |= TLSValidateGenericError
		}
	}

	if serverName != "" {
		if err := leaf.VerifyHostname(serverName); err != nil {
			failures |= TLSValidateBadIdentity
		}
	}

	failures &= p.validationFlags
	if failures == 0 {
		return nil
	}

	if p.decider != nil && p.decider.Decide(leaf, failures) {
		return nil
	}

	return liberrors.ErrCertificateRejected{Reason: failures.String()}
}

// tlsConfig builds the TLS client configuration of a Conn.
// Validation is performed by the policy, therefore the built-in
// verification is disabled.
func (p *tlsPolicy) tlsConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true, //nolint:gosec
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return p.verify(serverName, rawCerts)
		},
	}
}
