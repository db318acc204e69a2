package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brokkr-io/brokkr/internal/authpak"
)

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint a new agent or generator identity",
	}
	cmd.AddCommand(newCreateAgentCmd())
	cmd.AddCommand(newCreateGeneratorCmd())
	return cmd
}

func newCreateAgentCmd() *cobra.Command {
	var name, clusterName string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Register a new agent identity and print its PAK",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || clusterName == "" {
				return configError(fmt.Errorf("--name and --cluster-name are required"))
			}
			cfg, logger, err := loadBrokerConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			gen, err := authpak.Generate(authpak.DefaultConfig())
			if err != nil {
				return fmt.Errorf("generate pak: %w", err)
			}
			agent, err := st.CreateAgent(ctx, name, clusterName, gen.Hash)
			if err != nil {
				return fmt.Errorf("create agent: %w", err)
			}
			fmt.Printf("Agent ID: %s\n", agent.ID)
			fmt.Printf("PAK:      %s\n", gen.Plaintext)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&clusterName, "cluster-name", "", "cluster the agent manages")
	return cmd
}

func newCreateGeneratorCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "generator",
		Short: "Register a new generator identity and print its PAK",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return configError(fmt.Errorf("--name is required"))
			}
			cfg, logger, err := loadBrokerConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			gen, err := authpak.Generate(authpak.DefaultConfig())
			if err != nil {
				return fmt.Errorf("generate pak: %w", err)
			}
			g, err := st.CreateGenerator(ctx, nil, name, gen.Hash)
			if err != nil {
				return fmt.Errorf("create generator: %w", err)
			}
			fmt.Printf("Generator ID: %s\n", g.ID)
			fmt.Printf("PAK:          %s\n", gen.Plaintext)
			if description != "" {
				fmt.Printf("Description:  %s\n", description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "generator name")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description (not persisted; generators carry no description column)")
	return cmd
}
