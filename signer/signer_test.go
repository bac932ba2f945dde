// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import "testing"

func TestSignDeterministic(t *testing.T) {
	s := New("secret-key")
	payload := []byte(`[{"event_type":"page_view"}]`)

	first := s.Sign(1766000000000, payload)
	second := s.Sign(1766000000000, payload)
	if first == "" {
		t.Fatal("expected non-empty signature with a configured secret")
	}
	if first != second {
		t.Fatalf("same inputs produced different signatures: %q vs %q", first, second)
	}
}

func TestSignSensitivity(t *testing.T) {
	s := New("secret-key")
	base := s.Sign(1766000000000, []byte(`{"a":1}`))

	if s.Sign(1766000000000, []byte(`{"a":2}`)) == base {
		t.Fatal("one changed payload byte kept the signature")
	}
	if s.Sign(1766000000001, []byte(`{"a":1}`)) == base {
		t.Fatal("changed timestamp kept the signature")
	}
	if New("other-key").Sign(1766000000000, []byte(`{"a":1}`)) == base {
		t.Fatal("changed key kept the signature")
	}
}

func TestSignWithoutSecretIsEmpty(t *testing.T) {
	s := New("")
	if s.Enabled() {
		t.Fatal("empty secret should disable signing")
	}
	if got := s.Sign(1766000000000, []byte("payload")); got != "" {
		t.Fatalf("expected empty signature, got %q", got)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	s := New("secret-key")
	payload := []byte(`[{"event_type":"heartbeat"}]`)
	signature := s.Sign(1766000000000, payload)

	if err := s.Verify(1766000000000, payload, signature); err != nil {
		t.Fatalf("Verify rejected a valid signature: %v", err)
	}
	if err := s.Verify(1766000000001, payload, signature); err == nil {
		t.Fatal("Verify accepted a signature for the wrong timestamp")
	}
	if err := s.Verify(1766000000000, []byte("tampered"), signature); err == nil {
		t.Fatal("Verify accepted a signature for tampered payload")
	}
	if err := s.Verify(1766000000000, payload, "zz-not-hex"); err == nil {
		t.Fatal("Verify accepted a non-hex signature")
	}
}
