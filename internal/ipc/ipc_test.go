package ipc_test

import (
	"context"
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

// scriptedEngine emits a fixed progress script and writes a mesh into the
// pipeline output directory.
type scriptedEngine struct{}

func (scriptedEngine) Run(_ context.Context, _ string, args []string, onLine func(string)) error {
	onLine("PROG:featureExtraction,20")
	onLine("PROG:texturing,95")
	outputDir := argValue(args, "--output")
	meshDir := filepath.Join(outputDir, "texturedMesh")
	if err := os.MkdirAll(meshDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(meshDir, "mesh.obj"), []byte("v 0 0 0"), 0o644)
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func imageSet(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, "img"+string(rune('a'+i))+".jpg")
		if err := os.WriteFile(p, []byte("pixels"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func startServer(t *testing.T, cfg *config.Config) (*ipc.Server, string, *daemon.Daemon) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	reg, err := registry.NewRegistry(context.Background(), store, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	manager := storage.NewManager(cfg, nil, logging.NewNop())
	client, err := pipeline.NewClient("meshroom_batch", 50*time.Millisecond, pipeline.WithExecutor(scriptedEngine{}))
	if err != nil {
		t.Fatal(err)
	}
	orch := orchestrator.New(cfg, reg, manager, client, logging.NewNop())
	d, err := daemon.New(cfg, store, orch, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}

	socket := filepath.Join(cfg.Paths.LogDir, "facet.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatal(err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return srv, socket, d
}

func TestIPCJobLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, socket, _ := startServer(t, cfg)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Fatal("daemon not reported running")
	}
	if status.JobDBPath == "" || status.LockPath == "" {
		t.Fatalf("status missing paths: %#v", status)
	}

	created, err := client.JobCreate("alice", imageSet(t, 3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Job.Status != string(registry.StatusCreated) {
		t.Fatalf("unexpected status after create: %s", created.Job.Status)
	}
	if len(created.Job.InputRefs) != 3 {
		t.Fatalf("expected 3 input refs, got %d", len(created.Job.InputRefs))
	}

	queued, err := client.Reconstruct(created.Job.ID, "medium")
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if queued.EstimateLower == "" || queued.EstimateUpper == "" {
		t.Fatalf("estimate missing: %#v", queued)
	}

	deadline := time.Now().Add(3 * time.Second)
	var described *ipc.JobDescribeResponse
	for {
		described, err = client.JobDescribe(created.Job.ID)
		if err != nil {
			t.Fatalf("describe: %v", err)
		}
		if described.Job.Status == string(registry.StatusCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete; last state %#v", described.Job)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if described.Job.Progress != 100 {
		t.Fatalf("completed job progress = %d", described.Job.Progress)
	}

	artifact, err := client.Artifact(created.Job.ID)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	data, err := os.ReadFile(artifact.ModelPath)
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	if string(data) != "v 0 0 0" {
		t.Fatalf("unexpected model contents %q", data)
	}
	if _, err := os.Stat(artifact.ModelInfoPath); err != nil {
		t.Fatalf("model info sidecar missing: %v", err)
	}

	listed, err := client.JobList([]string{"completed"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed.Jobs) != 1 || listed.Jobs[0].ID != created.Job.ID {
		t.Fatalf("unexpected listing: %#v", listed.Jobs)
	}
}

func TestIPCRejectsBadRequests(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, socket, _ := startServer(t, cfg)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if _, err := client.Reconstruct("", "medium"); err == nil {
		t.Fatal("empty job id accepted")
	}
	if _, err := client.Reconstruct("some-id", "extreme"); err == nil {
		t.Fatal("unknown quality accepted")
	}
	if _, err := client.JobDescribe("missing-job"); err == nil {
		t.Fatal("unknown job described")
	}
	if _, err := client.Cancel(""); err == nil {
		t.Fatal("empty cancel id accepted")
	}
}

func TestIPCSweepRemovesExpiredJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetention(0, 60))
	_, socket, _ := startServer(t, cfg)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	created, err := client.JobCreate("bob", imageSet(t, 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := client.Reconstruct(created.Job.ID, "low"); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		described, err := client.JobDescribe(created.Job.ID)
		if err != nil {
			t.Fatalf("describe: %v", err)
		}
		if described.Job.Status == string(registry.StatusCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete; last state %#v", described.Job)
		}
		time.Sleep(10 * time.Millisecond)
	}

	swept, err := client.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept.Removed != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", swept.Removed)
	}
	if _, err := client.JobDescribe(created.Job.ID); err == nil {
		t.Fatal("swept job still described")
	}
}

func TestIPCLogTail(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, socket, d := startServer(t, cfg)

	if err := os.WriteFile(d.LogPath(), []byte("first\nsecond\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	resp, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("log tail: %v", err)
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "second" {
		t.Fatalf("unexpected lines: %#v", resp.Lines)
	}
	if resp.Offset == 0 {
		t.Fatal("expected offset to advance")
	}
}
