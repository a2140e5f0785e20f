package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	tonapi "github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

const (
	cursorLTKey   = "ton-indexer:cursor:lt"
	cursorHashKey = "ton-indexer:cursor:hash"
	txBatchSize   = 100
)

// Connect opens a lite client pool. A configured lite server wins over the
// network's global config.
func Connect(ctx context.Context, network, host string, port int, key string, log *zap.Logger) (tonapi.APIClientWrapped, error) {
	pool := liteclient.NewConnectionPool()

	if host != "" && key != "" {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := pool.AddConnection(ctx, addr, key); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := "https://ton.org/testnet-global.config.json"
		if strings.EqualFold(network, "mainnet") {
			configURL = "https://ton.org/global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL))
		if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	policy := tonapi.ProofCheckPolicyFast
	if strings.EqualFold(network, "mainnet") {
		policy = tonapi.ProofCheckPolicySecure
	}
	return tonapi.NewAPIClient(pool, policy).WithRetry(), nil
}

// Scanner walks the funding wallet's transactions past a cursor kept in redis.
type Scanner struct {
	api    tonapi.APIClientWrapped
	wallet *address.Address
	rdb    *redis.Client
	log    *zap.Logger
}

func NewScanner(api tonapi.APIClientWrapped, wallet *address.Address, rdb *redis.Client, log *zap.Logger) *Scanner {
	return &Scanner{api: api, wallet: wallet, rdb: rdb, log: log}
}

// InitCursor pins the cursor to the wallet's latest transaction on first run
// so history is not replayed.
func (s *Scanner) InitCursor(ctx context.Context) {
	if existing, _ := s.rdb.Get(ctx, cursorLTKey).Result(); existing != "" {
		s.log.Info("resuming from saved cursor", zap.String("lt", existing))
		return
	}

	account, err := s.account(ctx)
	if err != nil {
		s.log.Warn("cursor init failed, starting from LT=0", zap.Error(err))
		s.rdb.Set(ctx, cursorLTKey, "0", 0)
		return
	}
	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		s.log.Info("funding wallet not active yet, starting from LT=0")
		s.rdb.Set(ctx, cursorLTKey, "0", 0)
		return
	}

	s.saveCursor(ctx, account.LastTxLT, account.LastTxHash)
	s.log.Info("cursor initialized",
		zap.Uint64("lt", account.LastTxLT),
		zap.String("hash", hex.EncodeToString(account.LastTxHash)),
	)
}

func (s *Scanner) account(ctx context.Context) (*tlb.Account, error) {
	block, err := s.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}
	account, err := s.api.GetAccount(ctx, block, s.wallet)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (s *Scanner) cursorLT(ctx context.Context) uint64 {
	val, err := s.rdb.Get(ctx, cursorLTKey).Result()
	if err != nil || val == "" {
		return 0
	}
	lt, _ := strconv.ParseUint(val, 10, 64)
	return lt
}

func (s *Scanner) saveCursor(ctx context.Context, lt uint64, hash []byte) {
	s.rdb.Set(ctx, cursorLTKey, strconv.FormatUint(lt, 10), 0)
	s.rdb.Set(ctx, cursorHashKey, hex.EncodeToString(hash), 0)
}

// Poll hands every incoming transfer newer than the cursor to handle, oldest
// first, then advances the cursor. A handle error stops the cycle without
// moving the cursor.
func (s *Scanner) Poll(ctx context.Context, handle func(context.Context, Transfer) error) error {
	cursor := s.cursorLT(ctx)

	account, err := s.account(ctx)
	if err != nil {
		return err
	}
	if account == nil || !account.IsActive || account.LastTxLT <= cursor {
		return nil
	}

	txs, err := s.fetchSince(ctx, account, cursor)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}
	if len(txs) > 0 {
		s.log.Info("found new transactions", zap.Int("count", len(txs)))
	}
	for _, tx := range txs {
		tr, ok := IncomingTransfer(tx)
		if !ok {
			continue
		}
		if err := handle(ctx, tr); err != nil {
			return fmt.Errorf("handle transfer lt=%d: %w", tr.LT, err)
		}
	}

	s.saveCursor(ctx, account.LastTxLT, account.LastTxHash)
	return nil
}

// fetchSince pages backwards from the account's last transaction until the
// cursor and returns the newer transactions in chronological order.
func (s *Scanner) fetchSince(ctx context.Context, account *tlb.Account, cursor uint64) ([]*tlb.Transaction, error) {
	var out []*tlb.Transaction
	lt, hash := account.LastTxLT, account.LastTxHash

	for {
		txs, err := s.api.ListTransactions(ctx, s.wallet, uint32(txBatchSize), lt, hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", lt, err)
		}
		if len(txs) == 0 {
			break
		}

		reached := false
		for _, tx := range txs {
			if tx.LT <= cursor {
				reached = true
				continue
			}
			out = append(out, tx)
		}
		if reached || len(txs) < txBatchSize {
			break
		}

		oldest := txs[0]
		if oldest.PrevTxLT == 0 {
			break
		}
		lt, hash = oldest.PrevTxLT, oldest.PrevTxHash
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LT < out[j].LT })
	return out, nil
}
