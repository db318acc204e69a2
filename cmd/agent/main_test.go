package main

import (
	"errors"
	"testing"
)

func TestExitCodeForConfigError(t *testing.T) {
	err := configError(errors.New("bad flag"))
	if got := exitCodeFor(err); got != 2 {
		t.Fatalf("expected exit code 2 for a config error, got %d", got)
	}
}

func TestExitCodeForFatalError(t *testing.T) {
	if got := exitCodeFor(errors.New("boom")); got != 1 {
		t.Fatalf("expected exit code 1 for an unwrapped error, got %d", got)
	}
}

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"register", "start"} {
		if !names[want] {
			t.Fatalf("expected root command to register %q, got %v", want, names)
		}
	}
}

func TestRunStartRequiresConfigPath(t *testing.T) {
	cfgPath = ""
	err := runStart(t.Context())
	if err == nil {
		t.Fatal("expected an error when --config is unset")
	}
}
