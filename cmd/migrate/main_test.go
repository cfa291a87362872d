package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("BIOHUB_PG_DSN", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"up"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "missing DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}

func TestMigrateRejectsUnknownCommand(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"sideways"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestMigrateRegistersCommands(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"up", "down", "seed", "status"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Fatalf("missing subcommand %s: %v", name, err)
		}
	}
}
