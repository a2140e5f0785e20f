package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x402-escrow/backend/internal/auth"
	"github.com/x402-escrow/backend/internal/config"
	"github.com/x402-escrow/backend/internal/escrow"
	"github.com/x402-escrow/backend/internal/events"
	"github.com/x402-escrow/backend/internal/http/dto"
	"github.com/x402-escrow/backend/internal/http/handlers"
	"github.com/x402-escrow/backend/internal/models"
	"github.com/x402-escrow/backend/internal/repositories"
	"github.com/x402-escrow/backend/internal/services"
	"github.com/x402-escrow/backend/internal/ton"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type testAPI struct {
	app     *fiber.App
	funding *services.FundingService
	clock   atomic.Int64
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		JWTSecret:        testSecret,
		JWTExpiration:    time.Hour,
		ChallengeTTL:     time.Minute,
		CORSAllowOrigins: "*",
	}

	store := repositories.NewMemoryStore()
	audit := repositories.NewMemoryAuditRepo()
	bus := events.NewMemoryBus()
	engine := escrow.NewEngine(solana.MustPublicKeyFromBase58(escrow.DefaultProgramID), store)

	api := &testAPI{}
	api.clock.Store(1_700_000_000)

	escrowSvc := services.NewEscrowService(engine, store, audit, bus, nil, log)
	escrowSvc.SetNowFunc(api.clock.Load)
	api.funding = services.NewFundingService(store, audit, bus, nil, log)
	authSvc := services.NewAuthService(repositories.NewMemoryChallengeRepo(), ton.NewVerifier(nil), cfg, log)

	api.app = fiber.New()
	SetupRouter(api.app, cfg, log, nil,
		handlers.NewHealthHandler(map[string]handlers.Pinger{
			"store": func(context.Context) error { return nil },
		}),
		handlers.NewAuthHandler(authSvc, cfg, log),
		handlers.NewAccountHandler(api.funding, log),
		handlers.NewEscrowHandler(escrowSvc, log),
		nil,
	)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, identity solana.PublicKey, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if !identity.IsZero() {
		token, err := auth.GenerateJWT(testSecret, identity.String(), auth.MethodSignature, time.Hour)
		require.NoError(t, err)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (a *testAPI) fund(t *testing.T, id solana.PublicKey, amount uint64) {
	t.Helper()
	ok, err := a.funding.Credit(context.Background(), id, amount, "test:"+id.String(), "test")
	require.NoError(t, err)
	require.True(t, ok)
}

func decodeEscrow(t *testing.T, body []byte) dto.EscrowResponse {
	t.Helper()
	var resp dto.EscrowResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Code
}

func TestRouter_HealthAndAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(t, fiber.MethodGet, "/health", solana.PublicKey{}, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, body := api.do(t, fiber.MethodGet, "/api/v1/me", solana.PublicKey{}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", errorCode(t, body))

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer garbage")
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_SignatureLogin(t *testing.T) {
	api := newTestAPI(t)
	wallet := solana.NewWallet()

	status, body := api.do(t, fiber.MethodPost, "/api/v1/auth/challenge", solana.PublicKey{},
		dto.ChallengeRequest{Identity: wallet.PublicKey().String()})
	require.Equal(t, fiber.StatusOK, status)
	var ch dto.ChallengeResponse
	require.NoError(t, json.Unmarshal(body, &ch))
	assert.EqualValues(t, 60, ch.ExpiresIn)

	sig, err := wallet.PrivateKey.Sign([]byte(ch.Message))
	require.NoError(t, err)
	verify := dto.VerifySignatureRequest{Identity: wallet.PublicKey().String(), Nonce: ch.Nonce, Signature: sig.String()}

	status, body = api.do(t, fiber.MethodPost, "/api/v1/auth/verify", solana.PublicKey{}, verify)
	require.Equal(t, fiber.StatusOK, status)
	var session dto.AuthResponse
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, wallet.PublicKey().String(), session.Identity)

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+session.Token)
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var me dto.MeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, ton.FundingMemoPrefix+wallet.PublicKey().String(), me.FundingMemo)

	// replaying the nonce fails
	status, _ = api.do(t, fiber.MethodPost, "/api/v1/auth/verify", solana.PublicKey{}, verify)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRouter_EscrowRelease(t *testing.T) {
	api := newTestAPI(t)
	seller := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()
	facilitator := solana.NewWallet().PublicKey()
	api.fund(t, payer, 1_000)

	create := dto.CreateEscrowRequest{RequestID: "order-1", Amount: 400, ExpiresAt: api.clock.Load() + 3600}
	status, body := api.do(t, fiber.MethodPost, "/api/v1/escrows", seller, create)
	require.Equal(t, fiber.StatusCreated, status, string(body))
	created := decodeEscrow(t, body)
	assert.Equal(t, models.EscrowStatusAwaiting, created.Escrow.Status)
	addr := created.Escrow.Address

	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows", seller, create)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "AddressInUse", errorCode(t, body))

	ref := dto.EscrowRefRequest{Seller: seller.String(), RequestID: "order-1"}
	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows/deposit", payer, ref)
	require.Equal(t, fiber.StatusOK, status, string(body))
	deposited := decodeEscrow(t, body)
	assert.Equal(t, models.EscrowStatusFunded, deposited.Escrow.Status)
	require.NotNil(t, deposited.Balance)
	assert.EqualValues(t, 600, *deposited.Balance)

	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows/deposit", payer, ref)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "AlreadyPaid", errorCode(t, body))

	status, body = api.do(t, fiber.MethodGet, "/api/v1/accounts/"+addr, solana.PublicKey{}, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), `"balance":400`)

	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows/release", facilitator, ref)
	require.Equal(t, fiber.StatusOK, status, string(body))
	assert.Equal(t, models.EscrowStatusReleased, decodeEscrow(t, body).Escrow.Status)

	status, body = api.do(t, fiber.MethodGet, "/api/v1/accounts/"+seller.String(), solana.PublicKey{}, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), `"balance":400`)

	status, body = api.do(t, fiber.MethodGet, "/api/v1/escrows?seller="+seller.String()+"&request_id=order-1", payer, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "RecordNotFound", errorCode(t, body))

	status, body = api.do(t, fiber.MethodGet, "/api/v1/escrows/"+addr+"/history", payer, nil)
	require.Equal(t, fiber.StatusOK, status)
	var history struct {
		Data []models.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Len(t, history.Data, 3)
}

func TestRouter_EscrowRefundAndErrors(t *testing.T) {
	api := newTestAPI(t)
	seller := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()
	stranger := solana.NewWallet().PublicKey()
	api.fund(t, payer, 500)

	status, body := api.do(t, fiber.MethodPost, "/api/v1/escrows", seller,
		dto.CreateEscrowRequest{RequestID: "zero", Amount: 0, ExpiresAt: api.clock.Load() + 60})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "InvalidAmount", errorCode(t, body))

	status, _ = api.do(t, fiber.MethodPost, "/api/v1/escrows", seller,
		dto.CreateEscrowRequest{RequestID: "big", Amount: 900, ExpiresAt: api.clock.Load() + 60})
	require.Equal(t, fiber.StatusCreated, status)
	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows/deposit", payer,
		dto.EscrowRefRequest{Seller: seller.String(), RequestID: "big"})
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "InsufficientFunds", errorCode(t, body))

	ref := dto.EscrowRefRequest{Seller: seller.String(), RequestID: "small"}
	status, _ = api.do(t, fiber.MethodPost, "/api/v1/escrows", seller,
		dto.CreateEscrowRequest{RequestID: "small", Amount: 300, ExpiresAt: api.clock.Load() + 60})
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = api.do(t, fiber.MethodPost, "/api/v1/escrows/deposit", payer, ref)
	require.Equal(t, fiber.StatusOK, status)

	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows/refund", payer, ref)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "PaymentNotExpired", errorCode(t, body))

	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows/refund", stranger, ref)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "UnauthorizedPayer", errorCode(t, body))

	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows/deposit", payer,
		dto.EscrowRefRequest{Seller: "not-a-key", RequestID: "small"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "BadRequest", errorCode(t, body))

	api.clock.Add(60)
	status, body = api.do(t, fiber.MethodPost, "/api/v1/escrows/refund", payer, ref)
	require.Equal(t, fiber.StatusOK, status, string(body))
	refunded := decodeEscrow(t, body)
	assert.Equal(t, models.EscrowStatusRefunded, refunded.Escrow.Status)
	require.NotNil(t, refunded.Balance)
	assert.EqualValues(t, 500, *refunded.Balance)
}
