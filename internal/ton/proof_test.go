package ton

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"
)

func signedProof(t *testing.T, domain string, ts time.Time) (ProofData, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	addrHash := make([]byte, 32)
	for i := range addrHash {
		addrHash[i] = byte(i)
	}
	proof := Proof{
		Timestamp: ts.Unix(),
		Domain:    ProofDomain{LengthBytes: len(domain), Value: domain},
		Payload:   "nonce-12345",
	}
	digest := SigningDigest(0, addrHash, proof)
	proof.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest[:]))

	return ProofData{
		Address:   "0:" + hex.EncodeToString(addrHash),
		PublicKey: hex.EncodeToString(pub),
		Proof:     proof,
	}, pub, priv
}

func TestVerifier_ValidSignature(t *testing.T) {
	data, pub, _ := signedProof(t, "escrow.example.com", time.Now())

	got, err := NewVerifier([]string{"escrow.example.com"}).Verify(data)
	if err != nil {
		t.Fatalf("expected valid proof, got error: %v", err)
	}
	if !bytes.Equal(got, pub) {
		t.Fatalf("public key = %x, want %x", got, pub)
	}
}

func TestVerifier_HexSignature(t *testing.T) {
	data, _, _ := signedProof(t, "escrow.example.com", time.Now())
	sig, _ := base64.StdEncoding.DecodeString(data.Proof.Signature)
	data.Proof.Signature = hex.EncodeToString(sig)

	if _, err := NewVerifier(nil).Verify(data); err != nil {
		t.Fatalf("expected hex signature to verify, got %v", err)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProofData)
		at     time.Time
	}{
		{"expired", func(*ProofData) {}, time.Now().Add(-10 * time.Minute)},
		{"future", func(*ProofData) {}, time.Now().Add(10 * time.Minute)},
		{"wrong domain", func(d *ProofData) { d.Proof.Domain.Value = "evil.com" }, time.Now()},
		{"tampered payload", func(d *ProofData) { d.Proof.Payload = "other" }, time.Now()},
		{"zero signature", func(d *ProofData) {
			d.Proof.Signature = base64.StdEncoding.EncodeToString(make([]byte, 64))
		}, time.Now()},
		{"bad address", func(d *ProofData) { d.Address = "0:short" }, time.Now()},
		{"bad public key", func(d *ProofData) { d.PublicKey = "abcd" }, time.Now()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, _, _ := signedProof(t, "escrow.example.com", tt.at)
			tt.mutate(&data)
			v := NewVerifier([]string{"escrow.example.com"})
			if _, err := v.Verify(data); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestVerifier_Clock(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	data, _, _ := signedProof(t, "a.com", issued)

	v := NewVerifier(nil)
	v.now = func() time.Time { return issued.Add(4 * time.Minute) }
	if _, err := v.Verify(data); err != nil {
		t.Fatalf("proof within max age rejected: %v", err)
	}
	v.now = func() time.Time { return issued.Add(6 * time.Minute) }
	if _, err := v.Verify(data); err == nil {
		t.Fatal("expected stale proof to be rejected")
	}
}

func TestParseRawAddress(t *testing.T) {
	tests := []struct {
		input string
		wc    int32
		valid bool
	}{
		{"0:abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789", 0, true},
		{"-1:abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789", -1, true},
		{"invalid", 0, false},
		{"0:short", 0, false},
		{"x:abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			wc, hash, err := ParseRawAddress(tt.input)
			if !tt.valid {
				if err == nil {
					t.Fatal("expected error for invalid address")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected valid, got error: %v", err)
			}
			if wc != tt.wc {
				t.Errorf("workchain = %d, want %d", wc, tt.wc)
			}
			if len(hash) != 32 {
				t.Errorf("hash len = %d, want 32", len(hash))
			}
		})
	}
}
