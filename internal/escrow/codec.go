package escrow

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

// RecordSize is the fixed size of an encoded record:
// discriminator(8) + seller(32) + request id(4+64) + amount(8) +
// expires_at(8) + is_paid(1) + payer(32) + bump(1).
const RecordSize = 8 + 32 + 4 + MaxRequestIDLen + 8 + 8 + 1 + 32 + 1

// Discriminator prefixes every encoded record.
var Discriminator = func() [8]byte {
	sum := sha256.Sum256([]byte("account:PaymentRequirement"))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}()

// MarshalBinary encodes the record in its fixed Borsh layout, zero padded
// to RecordSize.
func (r *Record) MarshalBinary() ([]byte, error) {
	if len(r.RequestID) > MaxRequestIDLen {
		return nil, ErrRequestIDTooLong
	}
	buf := new(bytes.Buffer)
	buf.Grow(RecordSize)
	enc := bin.NewBorshEncoder(buf)

	steps := []func() error{
		func() error { return enc.WriteBytes(Discriminator[:], false) },
		func() error { return enc.WriteBytes(r.Seller.Bytes(), false) },
		func() error { return enc.WriteUint32(uint32(len(r.RequestID)), binary.LittleEndian) },
		func() error { return enc.WriteBytes([]byte(r.RequestID), false) },
		func() error { return enc.WriteUint64(r.Amount, binary.LittleEndian) },
		func() error { return enc.WriteInt64(r.ExpiresAt, binary.LittleEndian) },
		func() error { return enc.WriteBool(r.IsPaid) },
		func() error { return enc.WriteBytes(r.Payer.Bytes(), false) },
		func() error { return enc.WriteUint8(r.Bump) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("encode escrow record: %w", err)
		}
	}

	out := buf.Bytes()
	if len(out) < RecordSize {
		out = append(out, make([]byte, RecordSize-len(out))...)
	}
	return out, nil
}

// UnmarshalBinary decodes a record written by MarshalBinary. Trailing
// padding is ignored.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) < len(Discriminator) {
		return fmt.Errorf("decode escrow record: %d bytes is too short", len(data))
	}
	if !bytes.Equal(data[:len(Discriminator)], Discriminator[:]) {
		return fmt.Errorf("decode escrow record: discriminator mismatch")
	}
	dec := bin.NewBorshDecoder(data[len(Discriminator):])

	seller, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return fmt.Errorf("decode escrow seller: %w", err)
	}
	idLen, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("decode escrow request id length: %w", err)
	}
	if idLen > MaxRequestIDLen {
		return ErrRequestIDTooLong
	}
	id, err := dec.ReadNBytes(int(idLen))
	if err != nil {
		return fmt.Errorf("decode escrow request id: %w", err)
	}
	amount, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("decode escrow amount: %w", err)
	}
	expiresAt, err := dec.ReadInt64(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("decode escrow expires_at: %w", err)
	}
	isPaid, err := dec.ReadBool()
	if err != nil {
		return fmt.Errorf("decode escrow is_paid: %w", err)
	}
	payer, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return fmt.Errorf("decode escrow payer: %w", err)
	}
	bump, err := dec.ReadUint8()
	if err != nil {
		return fmt.Errorf("decode escrow bump: %w", err)
	}

	*r = Record{
		Seller:    solana.PublicKeyFromBytes(seller),
		RequestID: string(id),
		Amount:    amount,
		ExpiresAt: expiresAt,
		IsPaid:    isPaid,
		Payer:     solana.PublicKeyFromBytes(payer),
		Bump:      bump,
	}
	return nil
}
