package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/config"
	"github.com/brokkr-io/brokkr/internal/logging"
	"github.com/brokkr-io/brokkr/internal/store"
)

// adminKeyPath is where the plaintext admin PAK is written on first start,
// per spec.md §6 ("broker writes plaintext PAK to /tmp/key.txt, chmod 600").
const adminKeyPath = "/tmp/key.txt"

// loadBrokerConfig reads the broker config (file + env overlay) and builds a
// logger from its log_level.
func loadBrokerConfig() (config.Broker, *zap.Logger, error) {
	cfg, err := config.LoadBroker(cfgPath)
	if err != nil {
		return cfg, nil, configError(fmt.Errorf("load config: %w", err))
	}
	if cfg.EncryptionKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return cfg, nil, fmt.Errorf("generate encryption key: %w", err)
		}
		cfg.EncryptionKey = hex.EncodeToString(key)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return cfg, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore connects to cfg.DatabaseURL and ensures the schema exists.
func openStore(ctx context.Context, cfg config.Broker, logger *zap.Logger) (*store.Store, error) {
	st, err := store.New(ctx, cfg.DatabaseURL, cfg.MaxConns, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return st, nil
}

// bootstrapAdmin ensures an admin_role row exists. On first start it mints a
// PAK, persists its hash, and writes the plaintext to adminKeyPath
// (chmod 600); on subsequent starts it is a no-op (spec.md §6).
func bootstrapAdmin(ctx context.Context, st *store.Store, logger *zap.Logger) error {
	_, ok, err := st.AdminPAKHash(ctx)
	if err != nil {
		return fmt.Errorf("check admin role: %w", err)
	}
	if ok {
		return nil
	}

	gen, err := authpak.Generate(authpak.DefaultConfig())
	if err != nil {
		return fmt.Errorf("generate admin pak: %w", err)
	}
	if err := st.SetAdminPAKHash(ctx, gen.Hash); err != nil {
		return fmt.Errorf("persist admin pak: %w", err)
	}
	if err := os.WriteFile(adminKeyPath, []byte(gen.Plaintext+"\n"), 0o600); err != nil {
		return fmt.Errorf("write admin key to %s: %w", adminKeyPath, err)
	}
	logger.Info("bootstrapped admin role", zap.String("key_path", adminKeyPath))
	return nil
}
