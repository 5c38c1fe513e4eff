package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root, _ := newRootCommand()
	want := []string{"worker", "gc", "migrate", "serve", "alert"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestWorkerCommand_ScheduleFlag(t *testing.T) {
	root, _ := newRootCommand()
	cmd, _, err := root.Find([]string{"worker"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := cmd.ParseFlags([]string{"--schedule", "*/5 * * * *"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if got := cmd.Flags().Lookup("schedule").Value.String(); got != "*/5 * * * *" {
		t.Errorf("schedule = %q", got)
	}
}

func TestAlertCommand_RequiresSubjectAndMessage(t *testing.T) {
	root, _ := newRootCommand()
	root.SetArgs([]string{"--config", t.TempDir(), "alert", "--subject", "disk"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "message") {
		t.Fatalf("err = %v, want missing --message", err)
	}
}

func TestCommands_RequireDatabaseURL(t *testing.T) {
	t.Setenv("EMAILER_DATABASE_URL", "")
	t.Setenv("EMAILER_LOGGING_LEVEL", "disabled")

	for _, name := range []string{"gc", "migrate", "worker"} {
		t.Run(name, func(t *testing.T) {
			root, _ := newRootCommand()
			root.SetArgs([]string{"--config", t.TempDir(), name})
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})

			err := root.ExecuteContext(context.Background())
			if err == nil || !strings.Contains(err.Error(), "database.url is not set") {
				t.Fatalf("err = %v, want database.url error", err)
			}
		})
	}
}
