// Command broker runs the Brokkr control plane: the HTTP API, the
// background sweepers, and the first-start admin bootstrap. It also exposes
// the operator subcommands (create agent/generator, rotate admin/agent/
// generator) that talk to the same Postgres store directly, without going
// through the HTTP API, per spec.md §6's CLI surface.
//
// Grounded on the teacher's cmd/control-plane/main.go (signal-driven
// shutdown, zap logger, config-from-env) and cmd/legatorctl/main.go (the
// flag-parsing, subcommand-dispatch shape of the operator tooling), recast
// onto spf13/cobra for the richer subcommand tree spec.md §6 calls for.
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
		Use:           "broker",
		Short:         "Brokkr control plane",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("BROKKR_CONFIG"), "path to broker TOML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCreateCmd())
	root.AddCommand(newRotateCmd())
	return root
}

// exitCode lets subcommands distinguish a fatal runtime error (1) from a
// config/usage error (2), per spec.md §6's exit code convention.
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
