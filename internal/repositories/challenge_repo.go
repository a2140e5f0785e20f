package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/x402-escrow/backend/internal/auth"
)

var ErrChallengeNotFound = errors.New("challenge not found or expired")

const challengeKeyPrefix = "auth:challenge:"

// ChallengeStore keeps sign-in challenges until they are consumed once.
type ChallengeStore interface {
	Put(ctx context.Context, ch auth.Challenge, ttl time.Duration) error
	// Take returns and deletes the challenge for nonce.
	Take(ctx context.Context, nonce string) (auth.Challenge, error)
}

type ChallengeRepo struct {
	rdb *redis.Client
}

func NewChallengeRepo(rdb *redis.Client) *ChallengeRepo {
	return &ChallengeRepo{rdb: rdb}
}

func (r *ChallengeRepo) Put(ctx context.Context, ch auth.Challenge, ttl time.Duration) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, challengeKeyPrefix+ch.Nonce, data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("challenge nonce collision")
	}
	return nil
}

func (r *ChallengeRepo) Take(ctx context.Context, nonce string) (auth.Challenge, error) {
	val, err := r.rdb.GetDel(ctx, challengeKeyPrefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return auth.Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return auth.Challenge{}, err
	}
	var ch auth.Challenge
	if err := json.Unmarshal([]byte(val), &ch); err != nil {
		return auth.Challenge{}, err
	}
	return ch, nil
}

// MemoryChallengeRepo is the in-process ChallengeStore.
type MemoryChallengeRepo struct {
	mu      sync.Mutex
	entries map[string]memChallenge
	now     func() time.Time
}

type memChallenge struct {
	ch      auth.Challenge
	expires time.Time
}

func NewMemoryChallengeRepo() *MemoryChallengeRepo {
	return &MemoryChallengeRepo{entries: make(map[string]memChallenge), now: time.Now}
}

// Put stores ch and drops every entry whose TTL has passed.
func (r *MemoryChallengeRepo) Put(_ context.Context, ch auth.Challenge, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for nonce, e := range r.entries {
		if now.After(e.expires) {
			delete(r.entries, nonce)
		}
	}
	if _, ok := r.entries[ch.Nonce]; ok {
		return errors.New("challenge nonce collision")
	}
	r.entries[ch.Nonce] = memChallenge{ch: ch, expires: now.Add(ttl)}
	return nil
}

// Len returns the number of stored challenges.
func (r *MemoryChallengeRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *MemoryChallengeRepo) Take(_ context.Context, nonce string) (auth.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[nonce]
	if !ok {
		return auth.Challenge{}, ErrChallengeNotFound
	}
	delete(r.entries, nonce)
	if r.now().After(e.expires) {
		return auth.Challenge{}, ErrChallengeNotFound
	}
	return e.ch, nil
}
