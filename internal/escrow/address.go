package escrow

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the domain the escrow addresses are derived under.
const DefaultProgramID = "X4oZJgFqbY7p8YqV2qh3E5cR6w8N9tA2sK3bL4mD5nE"

var paymentSeed = []byte("payment")

// seeds builds "payment" + seller + requestID. Request ids are cut into
// chunks of at most solana.MaxSeedLength; the hashed bytes are unchanged.
func seeds(seller Identity, requestID string) [][]byte {
	out := [][]byte{paymentSeed, seller.Bytes()}
	id := []byte(requestID)
	for len(id) > solana.MaxSeedLength {
		out = append(out, id[:solana.MaxSeedLength])
		id = id[solana.MaxSeedLength:]
	}
	if len(id) > 0 {
		out = append(out, id)
	}
	return out
}

// DeriveAddress returns the storage address of the record for
// (seller, requestID) and the bump that makes it fall off the curve.
func DeriveAddress(programID, seller Identity, requestID string) (Identity, uint8, error) {
	if len(requestID) > MaxRequestIDLen {
		return Identity{}, 0, ErrRequestIDTooLong
	}
	addr, bump, err := solana.FindProgramAddress(seeds(seller, requestID), programID)
	if err != nil {
		return Identity{}, 0, fmt.Errorf("derive escrow address: %w", err)
	}
	return addr, bump, nil
}

// VerifyAuthority proves that addr is the record's own derived address by
// re-deriving it from the stored seller, request id and bump. Value held
// by a record can only leave through a call that passes this check.
func VerifyAuthority(programID Identity, rec *Record, addr Identity) error {
	s := append(seeds(rec.Seller, rec.RequestID), []byte{rec.Bump})
	derived, err := solana.CreateProgramAddress(s, programID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthority, err)
	}
	if !derived.Equals(addr) {
		return ErrInvalidAuthority
	}
	return nil
}
