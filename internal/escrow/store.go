package escrow

import "context"

// Custody is the view of the custody store and the value transfer
// primitive inside one atomic transaction.
type Custody interface {
	// CreateRecord allocates rec at addr and moves storageDeposit from
	// funder into it. Fails with ErrAddressInUse if addr is live.
	CreateRecord(ctx context.Context, addr Identity, rec *Record, funder Identity, storageDeposit uint64) error
	// LoadRecord fails with ErrRecordNotFound if addr holds no record.
	LoadRecord(ctx context.Context, addr Identity) (*Record, error)
	SaveRecord(ctx context.Context, addr Identity, rec *Record) error
	// Transfer moves amount between two holders. Fails with
	// ErrInsufficientFunds if from cannot cover it.
	Transfer(ctx context.Context, from, to Identity, amount uint64) error
	// Withdraw moves value held by the record at addr to another holder.
	Withdraw(ctx context.Context, addr, to Identity, amount uint64) error
	// CloseRecord deletes the record and moves everything it still holds
	// to recipient.
	CloseRecord(ctx context.Context, addr, recipient Identity) error
}

// Store runs fn as one serialized transaction. When fn returns an error
// nothing it did is kept.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Custody) error) error
}
