package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errNilStore = errors.New("escrow engine: store not configured")

// Entry is a record together with the address it lives at.
type Entry struct {
	Address Identity
	Record  *Record
}

// RentExemptMinimum is the storage deposit a record of size bytes needs to
// stay allocated: (128 + size) * 3480 * 2.
func RentExemptMinimum(size int) uint64 {
	return uint64(128+size) * 3480 * 2
}

// Engine enforces the escrow transitions against a Store. It keeps no
// state of its own; every call is one transaction on one address.
type Engine struct {
	programID      Identity
	store          Store
	storageDeposit uint64
	nowFn          func() int64
}

// NewEngine creates an engine deriving addresses under programID.
func NewEngine(programID Identity, store Store) *Engine {
	return &Engine{
		programID: programID,
		store:     store,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetStorageDeposit sets the amount charged to the seller on Create and
// paid out to whoever receives the record on close.
func (e *Engine) SetStorageDeposit(amount uint64) { e.storageDeposit = amount }

// SetNowFunc overrides the clock. Passing nil restores wall-clock time.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// ProgramID returns the domain addresses are derived under.
func (e *Engine) ProgramID() Identity { return e.programID }

// StorageDeposit returns the per-record storage deposit.
func (e *Engine) StorageDeposit() uint64 { return e.storageDeposit }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) run(ctx context.Context, fn func(tx Custody) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	return e.store.WithinTx(ctx, fn)
}

// Address returns the derived storage address for (seller, requestID).
func (e *Engine) Address(seller Identity, requestID string) (Identity, error) {
	addr, _, err := DeriveAddress(e.programID, seller, requestID)
	return addr, err
}

// Create opens an unpaid record for (seller, requestID).
func (e *Engine) Create(ctx context.Context, seller Identity, requestID string, amount uint64, expiresAt int64) (*Entry, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if expiresAt <= e.now() {
		return nil, ErrInvalidExpiration
	}
	if len(requestID) > MaxRequestIDLen {
		return nil, ErrRequestIDTooLong
	}

	addr, bump, err := DeriveAddress(e.programID, seller, requestID)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Seller:    seller,
		RequestID: requestID,
		Amount:    amount,
		ExpiresAt: expiresAt,
		IsPaid:    false,
		Payer:     NoIdentity,
		Bump:      bump,
	}
	err = e.run(ctx, func(tx Custody) error {
		return tx.CreateRecord(ctx, addr, rec, seller, e.storageDeposit)
	})
	if err != nil {
		return nil, err
	}
	return &Entry{Address: addr, Record: rec.Clone()}, nil
}

// Deposit moves the record's amount from payer into custody and marks the
// record paid by payer.
func (e *Engine) Deposit(ctx context.Context, payer, seller Identity, requestID string) (*Entry, error) {
	addr, err := e.Address(seller, requestID)
	if err != nil {
		return nil, err
	}
	var out *Record
	err = e.run(ctx, func(tx Custody) error {
		rec, err := tx.LoadRecord(ctx, addr)
		if err != nil {
			return err
		}
		if rec.IsPaid {
			return ErrAlreadyPaid
		}
		if rec.Expired(e.now()) {
			return ErrPaymentExpired
		}
		if rec.RequestID != requestID {
			return ErrInvalidRequestID
		}

		if err := tx.Transfer(ctx, payer, addr, rec.Amount); err != nil {
			return fmt.Errorf("deposit %d: %w", rec.Amount, err)
		}

		rec.IsPaid = true
		rec.Payer = payer
		if err := tx.SaveRecord(ctx, addr, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Entry{Address: addr, Record: out.Clone()}, nil
}

// Release pays the held amount to seller and closes the record. Anyone may
// call it; correctness rests on the seller and request id matching the
// record.
func (e *Engine) Release(ctx context.Context, seller Identity, requestID string) (*Entry, error) {
	addr, err := e.Address(seller, requestID)
	if err != nil {
		return nil, err
	}
	var out *Record
	err = e.run(ctx, func(tx Custody) error {
		rec, err := tx.LoadRecord(ctx, addr)
		if err != nil {
			return err
		}
		if !rec.IsPaid {
			return ErrNotPaid
		}
		if rec.RequestID != requestID {
			return ErrInvalidRequestID
		}
		if !rec.Seller.Equals(seller) {
			return ErrUnauthorizedSeller
		}
		if err := e.payOut(ctx, tx, addr, rec, rec.Seller); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Entry{Address: addr, Record: out.Clone()}, nil
}

// Refund returns the held amount to the payer once the record expired and
// closes it.
func (e *Engine) Refund(ctx context.Context, payer, seller Identity, requestID string) (*Entry, error) {
	addr, err := e.Address(seller, requestID)
	if err != nil {
		return nil, err
	}
	var out *Record
	err = e.run(ctx, func(tx Custody) error {
		rec, err := tx.LoadRecord(ctx, addr)
		if err != nil {
			return err
		}
		if !rec.IsPaid {
			return ErrNotPaid
		}
		if rec.RequestID != requestID {
			return ErrInvalidRequestID
		}
		if !rec.Payer.Equals(payer) {
			return ErrUnauthorizedPayer
		}
		if !rec.Expired(e.now()) {
			return ErrPaymentNotExpired
		}
		if err := e.payOut(ctx, tx, addr, rec, rec.Payer); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Entry{Address: addr, Record: out.Clone()}, nil
}

// payOut is the only path value leaves a record by.
func (e *Engine) payOut(ctx context.Context, tx Custody, addr Identity, rec *Record, to Identity) error {
	if err := VerifyAuthority(e.programID, rec, addr); err != nil {
		return err
	}
	if err := tx.Withdraw(ctx, addr, to, rec.Amount); err != nil {
		return fmt.Errorf("pay out %d: %w", rec.Amount, err)
	}
	return tx.CloseRecord(ctx, addr, to)
}

// Get reads the record for (seller, requestID).
func (e *Engine) Get(ctx context.Context, seller Identity, requestID string) (*Entry, error) {
	addr, err := e.Address(seller, requestID)
	if err != nil {
		return nil, err
	}
	return e.GetByAddress(ctx, addr)
}

// GetByAddress reads the record stored at addr.
func (e *Engine) GetByAddress(ctx context.Context, addr Identity) (*Entry, error) {
	var out *Record
	err := e.run(ctx, func(tx Custody) error {
		rec, err := tx.LoadRecord(ctx, addr)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Entry{Address: addr, Record: out.Clone()}, nil
}
