package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/x402-escrow/backend/internal/escrow"
)

// MemoryStore keeps records and balances in process. Transactions are
// serialized by a single mutex and staged in an overlay that is applied
// only when the callback succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[escrow.Identity][]byte
	balances map[escrow.Identity]uint64
	credits  map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[escrow.Identity][]byte),
		balances: make(map[escrow.Identity]uint64),
		credits:  make(map[string]struct{}),
	}
}

type memSlot struct {
	data    []byte
	deleted bool
}

type memTx struct {
	s        *MemoryStore
	records  map[escrow.Identity]memSlot
	balances map[escrow.Identity]uint64
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx escrow.Custody) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		records:  make(map[escrow.Identity]memSlot),
		balances: make(map[escrow.Identity]uint64),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for addr, slot := range tx.records {
		if slot.deleted {
			delete(s.records, addr)
			continue
		}
		s.records[addr] = slot.data
	}
	for id, bal := range tx.balances {
		if bal == 0 {
			delete(s.balances, id)
			continue
		}
		s.balances[id] = bal
	}
	return nil
}

func (t *memTx) raw(addr escrow.Identity) ([]byte, bool) {
	if slot, ok := t.records[addr]; ok {
		return slot.data, !slot.deleted
	}
	data, ok := t.s.records[addr]
	return data, ok
}

func (t *memTx) balance(id escrow.Identity) uint64 {
	if bal, ok := t.balances[id]; ok {
		return bal
	}
	return t.s.balances[id]
}

func (t *memTx) CreateRecord(ctx context.Context, addr escrow.Identity, rec *escrow.Record, funder escrow.Identity, storageDeposit uint64) error {
	if _, live := t.raw(addr); live {
		return escrow.ErrAddressInUse
	}
	if err := t.Transfer(ctx, funder, addr, storageDeposit); err != nil {
		return err
	}
	return t.SaveRecord(ctx, addr, rec)
}

func (t *memTx) LoadRecord(_ context.Context, addr escrow.Identity) (*escrow.Record, error) {
	data, live := t.raw(addr)
	if !live {
		return nil, escrow.ErrRecordNotFound
	}
	var rec escrow.Record
	if err := rec.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *memTx) SaveRecord(_ context.Context, addr escrow.Identity, rec *escrow.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	t.records[addr] = memSlot{data: data}
	return nil
}

func (t *memTx) Transfer(_ context.Context, from, to escrow.Identity, amount uint64) error {
	if amount == 0 {
		return nil
	}
	fromBal := t.balance(from)
	if fromBal < amount {
		return escrow.ErrInsufficientFunds
	}
	if from.Equals(to) {
		return nil
	}
	toBal, err := addBalance(t.balance(to), amount)
	if err != nil {
		return err
	}
	t.balances[from] = fromBal - amount
	t.balances[to] = toBal
	return nil
}

func (t *memTx) Withdraw(ctx context.Context, addr, to escrow.Identity, amount uint64) error {
	if _, live := t.raw(addr); !live {
		return escrow.ErrRecordNotFound
	}
	return t.Transfer(ctx, addr, to, amount)
}

func (t *memTx) CloseRecord(ctx context.Context, addr, recipient escrow.Identity) error {
	if _, live := t.raw(addr); !live {
		return escrow.ErrRecordNotFound
	}
	if err := t.Transfer(ctx, addr, recipient, t.balance(addr)); err != nil {
		return err
	}
	t.records[addr] = memSlot{deleted: true}
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, id escrow.Identity) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[id], nil
}

func (s *MemoryStore) Credit(_ context.Context, id escrow.Identity, amount uint64, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.credits[ref]; seen {
		return false, nil
	}
	bal, err := addBalance(s.balances[id], amount)
	if err != nil {
		return false, err
	}
	s.balances[id] = bal
	s.credits[ref] = struct{}{}
	return true, nil
}

func (s *MemoryStore) ListExpired(_ context.Context, now int64, paid bool, after *ExpiredCursor, limit int) ([]escrow.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []escrow.Entry
	for addr, data := range s.records {
		var rec escrow.Record
		if err := rec.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		if rec.IsPaid != paid || !rec.Expired(now) || after.Before(rec.ExpiresAt, addr.String()) {
			continue
		}
		out = append(out, escrow.Entry{Address: addr, Record: &rec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Record.ExpiresAt != out[j].Record.ExpiresAt {
			return out[i].Record.ExpiresAt < out[j].Record.ExpiresAt
		}
		return out[i].Address.String() < out[j].Address.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutRecord stores rec at addr without any checks. Intended for seeding.
func (s *MemoryStore) PutRecord(addr escrow.Identity, rec *escrow.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[addr] = data
	return nil
}
