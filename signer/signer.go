// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
)

// Signer computes payload signatures with a fixed secret. The zero
// value (or New("")) is a no-op signer for unsigned operation.
type Signer struct {
	secret []byte
}

// New creates a Signer. An empty secret yields a signer whose Sign
// always returns "".
func New(secret string) *Signer {
	s := &Signer{}
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool { return len(s.secret) > 0 }

// Sign returns the hex-encoded HMAC-SHA256 of
// timestampMillis || SHA-256(payload). Deterministic; returns "" when
// no secret is configured.
func (s *Signer) Sign(timestampMillis int64, payload []byte) string {
	if len(s.secret) == 0 {
		return ""
	}
	digest := sha256.Sum256(payload)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(timestampMillis, 10)))
	mac.Write(digest[:])
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex signature against the expected value for the
// timestamp and payload, in constant time. Used by collector-side
// code and tests.
func (s *Signer) Verify(timestampMillis int64, payload []byte, signature string) error {
	if len(s.secret) == 0 {
		return errors.New("signer: no secret configured")
	}
	if signature == "" {
		return errors.New("signer: signature is empty")
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return errors.New("signer: signature is not valid hex")
	}
	expected, err := hex.DecodeString(s.Sign(timestampMillis, payload))
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return errors.New("signer: signature mismatch")
	}
	return nil
}
