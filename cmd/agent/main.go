// Command agent runs the Brokkr agent: a single reconciler loop polling one
// broker for applicable deployment objects, work orders, diagnostic
// requests, and relayed webhook deliveries, per spec.md §4.6. It also
// exposes the `register` subcommand that writes an agent's TOML config file
// out so `start` needs no flags of its own beyond --config.
//
// Grounded on the same cobra subcommand-tree shape as cmd/broker/main.go.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var cfgPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Brokkr agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("BROKKR_AGENT_CONFIG"), "path to agent TOML config file")

	root.AddCommand(newRegisterCmd())
	root.AddCommand(newStartCmd())
	return root
}

// exitCode mirrors cmd/broker's convention: 1 for a fatal runtime error, 2
// for a config/usage error, per spec.md §6.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }
func (e *exitCode) Unwrap() error { return e.err }

func configError(err error) error {
	return &exitCode{code: 2, err: err}
}

func exitCodeFor(err error) int {
	var ec *exitCode
	if errors.As(err, &ec) {
		fmt.Fprintf(os.Stderr, "error: %v\n", ec.err)
		return ec.code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
