// Package auth contains the algorithm of the authentication context:
// challenge selection and credential computation.
package auth

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
)

// Method constrains which challenge kinds a Sender may answer.
type Method int

const (
	// MethodAny answers any recognized challenge.
	MethodAny Method = iota

	// MethodBasic answers Basic challenges only.
	MethodBasic

	// MethodDigest answers Digest challenges only.
	MethodDigest
)

func md5Hex(in string) string {
	h := md5.Sum([]byte(in))
	return hex.EncodeToString(h[:])
}

func sha256Hex(in string) string {
	h := sha256.Sum256([]byte(in))
	return hex.EncodeToString(h[:])
}
