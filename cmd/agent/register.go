package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brokkr-io/brokkr/internal/config"
)

const defaultAgentConfigPath = "agent.toml"

func newRegisterCmd() *cobra.Command {
	var (
		brokerURL    string
		pak          string
		agentName    string
		clusterName  string
		pollInterval string
		kubeconfig   string
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Write an agent TOML config file for a PAK issued by `broker create agent`",
		RunE: func(cmd *cobra.Command, args []string) error {
			if brokerURL == "" {
				return configError(fmt.Errorf("--broker-url is required"))
			}
			if pak == "" {
				return configError(fmt.Errorf("--pak is required (from `broker create agent`'s output)"))
			}
			if agentName == "" || clusterName == "" {
				return configError(fmt.Errorf("--agent-name and --cluster-name are required"))
			}

			cfg := config.DefaultAgent()
			cfg.BrokerURL = brokerURL
			cfg.PAK = pak
			cfg.AgentName = agentName
			cfg.ClusterName = clusterName
			cfg.Kubeconfig = kubeconfig
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if pollInterval != "" {
				d, err := parseDuration(pollInterval)
				if err != nil {
					return configError(fmt.Errorf("--poll-interval: %w", err))
				}
				cfg.PollInterval = d
			}

			path := cfgPath
			if path == "" {
				path = defaultAgentConfigPath
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("write agent config: %w", err)
			}
			fmt.Printf("Agent config written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerURL, "broker-url", "", "base URL of the broker's HTTP API")
	cmd.Flags().StringVar(&pak, "pak", "", "plaintext PAK issued by `broker create agent`")
	cmd.Flags().StringVar(&agentName, "agent-name", "", "name this agent identifies as")
	cmd.Flags().StringVar(&clusterName, "cluster-name", "", "name of the cluster this agent manages")
	cmd.Flags().StringVar(&pollInterval, "poll-interval", "", "reconciler tick interval (e.g. 30s); default 30s")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "path to kubeconfig; empty uses in-cluster config")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); default info")
	return cmd
}
