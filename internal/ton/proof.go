package ton

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TonProofPrefix opens every signed ton_proof message.
	TonProofPrefix = "ton-proof-item-v2/"
	// TonConnectPrefix precedes the sha256 of the proof message.
	TonConnectPrefix = "ton-connect"

	MaxProofAge = 5 * time.Minute
	// allowed clock skew for timestamps from the future
	maxProofSkew = time.Minute
)

var ErrInvalidProofSignature = errors.New("ton proof: invalid signature")

// ProofData is the ton_proof reply of a TON Connect wallet.
type ProofData struct {
	Address   string `json:"address"` // raw "wc:hex"
	Network   string `json:"network,omitempty"`
	PublicKey string `json:"public_key"` // hex
	Proof     Proof  `json:"proof"`
}

type Proof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Payload   string      `json:"payload"`
	Signature string      `json:"signature"` // base64, hex accepted
}

type ProofDomain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// Verifier checks ton_proof signatures for a fixed set of domains.
type Verifier struct {
	allowedDomains []string
	now            func() time.Time
}

// NewVerifier creates a Verifier. An empty domain list accepts any domain.
func NewVerifier(allowedDomains []string) *Verifier {
	return &Verifier{allowedDomains: allowedDomains, now: time.Now}
}

// Verify checks the proof and returns the wallet public key that signed it.
func (v *Verifier) Verify(data ProofData) (ed25519.PublicKey, error) {
	now := v.now()
	proofTime := time.Unix(data.Proof.Timestamp, 0)
	if now.Sub(proofTime) > MaxProofAge {
		return nil, fmt.Errorf("ton proof expired: %s old", now.Sub(proofTime).Round(time.Second))
	}
	if proofTime.After(now.Add(maxProofSkew)) {
		return nil, errors.New("ton proof timestamp is in the future")
	}
	if !v.domainAllowed(data.Proof.Domain.Value) {
		return nil, fmt.Errorf("ton proof domain %q not allowed", data.Proof.Domain.Value)
	}

	workchain, addrHash, err := ParseRawAddress(data.Address)
	if err != nil {
		return nil, err
	}

	pubKey, err := hex.DecodeString(data.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(pubKey))
	}

	sig, err := decodeSignature(data.Proof.Signature)
	if err != nil {
		return nil, err
	}

	digest := SigningDigest(workchain, addrHash, data.Proof)
	if !ed25519.Verify(pubKey, digest[:], sig) {
		return nil, ErrInvalidProofSignature
	}
	return ed25519.PublicKey(pubKey), nil
}

// SigningDigest returns the hash a wallet signs for proof:
//
//	msg    = prefix | wc(4 LE) | hash(32) | len(domain)(4 LE) | domain | ts(8 LE) | payload
//	digest = sha256(0xffff | "ton-connect" | sha256(msg))
func SigningDigest(workchain int32, addrHash []byte, proof Proof) [32]byte {
	msg := make([]byte, 0, len(TonProofPrefix)+48+len(proof.Domain.Value)+len(proof.Payload))
	msg = append(msg, TonProofPrefix...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(workchain))
	msg = append(msg, addrHash...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(proof.Domain.LengthBytes))
	msg = append(msg, proof.Domain.Value...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(proof.Timestamp))
	msg = append(msg, proof.Payload...)

	msgHash := sha256.Sum256(msg)
	full := make([]byte, 0, 2+len(TonConnectPrefix)+sha256.Size)
	full = append(full, 0xff, 0xff)
	full = append(full, TonConnectPrefix...)
	full = append(full, msgHash[:]...)
	return sha256.Sum256(full)
}

func decodeSignature(s string) ([]byte, error) {
	if len(s) == hex.EncodedLen(ed25519.SignatureSize) {
		if sig, err := hex.DecodeString(s); err == nil {
			return sig, nil
		}
	}
	sig, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return sig, nil
}

// ParseRawAddress splits "wc:hex" into workchain and 32-byte account hash.
func ParseRawAddress(raw string) (int32, []byte, error) {
	wcPart, hashPart, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, nil, fmt.Errorf("invalid raw address format: %s", raw)
	}
	wc, err := strconv.ParseInt(wcPart, 10, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid workchain in %s: %w", raw, err)
	}
	hash, err := hex.DecodeString(hashPart)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid address hash hex: %w", err)
	}
	if len(hash) != 32 {
		return 0, nil, fmt.Errorf("address hash must be 32 bytes, got %d", len(hash))
	}
	return int32(wc), hash, nil
}

func (v *Verifier) domainAllowed(domain string) bool {
	if len(v.allowedDomains) == 0 {
		return true
	}
	for _, d := range v.allowedDomains {
		if d == domain {
			return true
		}
	}
	return false
}
