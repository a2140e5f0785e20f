package config

import (
	"testing"
	"time"

	"github.com/x402-escrow/backend/internal/escrow"
	"go.uber.org/zap"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"STORAGE_DRIVER", "ESCROW_PROGRAM_ID", "ESCROW_STORAGE_DEPOSIT", "API_PORT",
		"JWT_EXPIRATION_HOURS", "WORKER_SCAN_INTERVAL", "TON_PROOF_ALLOWED_DOMAINS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	if cfg.StorageDriver != StorageDriverPostgres {
		t.Errorf("StorageDriver = %s", cfg.StorageDriver)
	}
	if cfg.StorageDeposit != escrow.RentExemptMinimum(escrow.RecordSize) {
		t.Errorf("StorageDeposit = %d", cfg.StorageDeposit)
	}
	if cfg.JWTExpiration != 24*time.Hour || cfg.WorkerScanInterval != time.Minute {
		t.Errorf("unexpected durations: %s %s", cfg.JWTExpiration, cfg.WorkerScanInterval)
	}
	if cfg.TONProofAllowedDomains != nil {
		t.Errorf("TONProofAllowedDomains = %v", cfg.TONProofAllowedDomains)
	}
	if _, err := cfg.ProgramID(); err != nil {
		t.Errorf("default program id: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "MEMORY")
	t.Setenv("ESCROW_STORAGE_DEPOSIT", "0")
	t.Setenv("WORKER_SCAN_INTERVAL", "15s")
	t.Setenv("JWT_EXPIRATION_HOURS", "not-a-number")
	t.Setenv("TON_PROOF_ALLOWED_DOMAINS", " a.com, ,b.com ")

	cfg := Load()
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("StorageDriver = %s", cfg.StorageDriver)
	}
	if cfg.StorageDeposit != 0 {
		t.Errorf("StorageDeposit = %d", cfg.StorageDeposit)
	}
	if cfg.WorkerScanInterval != 15*time.Second {
		t.Errorf("WorkerScanInterval = %s", cfg.WorkerScanInterval)
	}
	if cfg.JWTExpiration != 24*time.Hour {
		t.Errorf("invalid int should fall back, got %s", cfg.JWTExpiration)
	}
	if len(cfg.TONProofAllowedDomains) != 2 || cfg.TONProofAllowedDomains[1] != "b.com" {
		t.Errorf("TONProofAllowedDomains = %v", cfg.TONProofAllowedDomains)
	}
}

func TestValidate_Fallbacks(t *testing.T) {
	cfg := &Config{
		StorageDriver:   "sqlite",
		EscrowProgramID: "not a key",
		JWTSecret:       defaultJWTSecret,
	}
	cfg.Validate(zap.NewNop())

	if cfg.StorageDriver != StorageDriverPostgres {
		t.Errorf("StorageDriver = %s", cfg.StorageDriver)
	}
	if cfg.EscrowProgramID != escrow.DefaultProgramID {
		t.Errorf("EscrowProgramID = %s", cfg.EscrowProgramID)
	}
}
