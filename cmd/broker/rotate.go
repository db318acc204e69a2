package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brokkr-io/brokkr/internal/authpak"
)

func newRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate an admin, agent, or generator PAK",
	}
	cmd.AddCommand(newRotateAdminCmd())
	cmd.AddCommand(newRotateAgentCmd())
	cmd.AddCommand(newRotateGeneratorCmd())
	return cmd
}

func newRotateAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin",
		Short: "Mint a fresh admin PAK, invalidating the prior one",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if err := st.SetAdminPAKHash(ctx, gen.Hash); err != nil {
				return fmt.Errorf("rotate admin pak: %w", err)
			}
			fmt.Printf("PAK: %s\n", gen.Plaintext)
			return nil
		},
	}
}

func newRotateAgentCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Mint a fresh PAK for an existing agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if uuid == "" {
				return configError(fmt.Errorf("--uuid is required"))
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

			if _, err := st.GetAgent(ctx, uuid); err != nil {
				return fmt.Errorf("lookup agent %s: %w", uuid, err)
			}
			gen, err := authpak.Generate(authpak.DefaultConfig())
			if err != nil {
				return fmt.Errorf("generate pak: %w", err)
			}
			if err := st.SetAgentPAKHash(ctx, uuid, gen.Hash); err != nil {
				return fmt.Errorf("rotate agent pak: %w", err)
			}
			fmt.Printf("PAK: %s\n", gen.Plaintext)
			return nil
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "agent id")
	return cmd
}

func newRotateGeneratorCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "generator",
		Short: "Mint a fresh PAK for an existing generator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if uuid == "" {
				return configError(fmt.Errorf("--uuid is required"))
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

			if _, err := st.GetGenerator(ctx, uuid); err != nil {
				return fmt.Errorf("lookup generator %s: %w", uuid, err)
			}
			gen, err := authpak.Generate(authpak.DefaultConfig())
			if err != nil {
				return fmt.Errorf("generate pak: %w", err)
			}
			if err := st.SetGeneratorPAKHash(ctx, uuid, gen.Hash); err != nil {
				return fmt.Errorf("rotate generator pak: %w", err)
			}
			fmt.Printf("PAK: %s\n", gen.Plaintext)
			return nil
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "generator id")
	return cmd
}
