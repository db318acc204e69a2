package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/config"
	"github.com/brokkr-io/brokkr/internal/logging"
	"github.com/brokkr-io/brokkr/pkg/agent"
)

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the agent reconciler loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
}

func runStart(parent context.Context) error {
	if cfgPath == "" {
		return configError(fmt.Errorf("--config is required (write one first with `agent register`)"))
	}

	cfg, err := config.LoadAgent(cfgPath)
	if err != nil {
		return configError(fmt.Errorf("load agent config: %w", err))
	}
	if cfg.BrokerURL == "" || cfg.PAK == "" {
		return configError(fmt.Errorf("agent config at %s is missing broker_url or pak", cfgPath))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r, err := agent.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build agent reconciler: %w", err)
	}

	logger.Info("brokkr agent starting",
		zap.String("broker_url", cfg.BrokerURL),
		zap.String("agent_name", cfg.AgentName),
		zap.String("cluster_name", cfg.ClusterName),
		zap.Duration("poll_interval", cfg.PollInterval))
	return r.Run(ctx)
}
