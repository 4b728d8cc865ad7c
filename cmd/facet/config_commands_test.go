package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigInit(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("existing config overwritten without --overwrite")
	}

	out, _, err = runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
}

func TestConfigShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[paths]")
	requireContains(t, out, "[retention]")
}
