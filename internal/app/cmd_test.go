package app

import (
	"io"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(io.Discard)

	want := []Command{
		CommandSync, CommandNotify, CommandServe, CommandWorker,
		CommandMigrate, CommandCleanup, CommandHealthcheck,
	}
	for _, name := range want {
		cmd, _, err := root.Find([]string{string(name)})
		if err != nil {
			t.Errorf("subcommand %q not found: %v", name, err)
			continue
		}
		if cmd.Name() != string(name) {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}
}

func TestNewRootCommand_SyncHasNotifyFlag(t *testing.T) {
	root := NewRootCommand(io.Discard)

	cmd, _, err := root.Find([]string{"sync"})
	if err != nil {
		t.Fatalf("sync not found: %v", err)
	}
	flag := cmd.Flags().Lookup("notify")
	if flag == nil {
		t.Fatal("sync should have --notify flag")
	}
	if flag.DefValue != "false" {
		t.Errorf("--notify default = %q, want false", flag.DefValue)
	}
}

func TestNewRootCommand_HealthcheckPortDefault(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"未設定", "", "8080"},
		{"SERVER_PORT指定", "9090", "9090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SERVER_PORT", tt.env)
			root := NewRootCommand(io.Discard)

			cmd, _, err := root.Find([]string{"healthcheck"})
			if err != nil {
				t.Fatalf("healthcheck not found: %v", err)
			}
			if got := cmd.Flags().Lookup("port").DefValue; got != tt.want {
				t.Errorf("--port default = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandWorker, "worker"},
		{CommandSync, "sync"},
		{CommandNotify, "notify"},
		{CommandCleanup, "cleanup"},
		{CommandMigrate, "migrate"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}
