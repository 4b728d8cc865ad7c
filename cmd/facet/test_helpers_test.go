package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"facet/internal/config"
	"facet/internal/daemon"
	"facet/internal/ipc"
	"facet/internal/logging"
	"facet/internal/orchestrator"
	"facet/internal/pipeline"
	"facet/internal/registry"
	"facet/internal/storage"
	"facet/internal/testsupport"
)

// scriptedEngine reports progress and writes a mesh so CLI flows can reach
// the completed state without a real engine install.
type scriptedEngine struct{}

func (scriptedEngine) Run(_ context.Context, _ string, args []string, onLine func(string)) error {
	onLine("PROG:featureExtraction,25")
	onLine("PROG:texturing,90")
	var outputDir string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--output" {
			outputDir = args[i+1]
		}
	}
	meshDir := filepath.Join(outputDir, "texturedMesh")
	if err := os.MkdirAll(meshDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(meshDir, "mesh.obj"), []byte("v 1 2 3"), 0o644)
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithRetention(0, 60))
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	reg, err := registry.NewRegistry(context.Background(), store, logging.NewNop())
	if err != nil {
		t.Fatalf("registry.NewRegistry: %v", err)
	}
	manager := storage.NewManager(cfg, nil, logging.NewNop())
	client, err := pipeline.NewClient("meshroom_batch", 50*time.Millisecond, pipeline.WithExecutor(scriptedEngine{}))
	if err != nil {
		t.Fatalf("pipeline.NewClient: %v", err)
	}
	orch := orchestrator.New(cfg, reg, manager, client, logging.NewNop())
	d, err := daemon.New(cfg, store, orch, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			cancel()
			d.Close()
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nstaging_dir = %q\nlog_dir = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.StagingDir,
		cfg.Paths.LogDir,
	)
	// config.Load rejects a non-positive window, so only mirror the
	// retention section when it would pass validation; the daemon side
	// keeps the in-memory value either way.
	if cfg.Retention.WindowHours > 0 {
		content += fmt.Sprintf("\n[retention]\nwindow_hours = %d\n", cfg.Retention.WindowHours)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeImageDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("img%02d.jpg", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("pixels"), 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	return dir
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func extractJobID(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "Created job ") {
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				return fields[2]
			}
		}
	}
	t.Fatalf("no job id in output %q", output)
	return ""
}

func waitForStatus(t *testing.T, env *cliTestEnv, id, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		out, _, err := runCLI(t, []string{"show", id}, env.socketPath, env.configPath)
		if err == nil && strings.Contains(out, "Status:    "+want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s never reached %s; last output %q err=%v", id, want, out, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
