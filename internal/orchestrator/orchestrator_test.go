package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"facet/internal/logging"
	"facet/internal/orchestrator"
	"facet/internal/pipeline"
	"facet/internal/registry"
	"facet/internal/services"
	"facet/internal/storage"
	"facet/internal/testsupport"
)

// engineFunc adapts a closure into a pipeline executor.
type engineFunc func(ctx context.Context, binary string, args []string, onLine func(string)) error

func (f engineFunc) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	return f(ctx, binary, args, onLine)
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func writeModelOutput(outputDir string) error {
	meshDir := filepath.Join(outputDir, "texturedMesh")
	if err := os.MkdirAll(meshDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(meshDir, "mesh.obj"), []byte("v 0 0 0"), 0o644)
}

func newOrchestrator(t *testing.T, engine pipeline.Executor, opts ...testsupport.ConfigOption) *orchestrator.Orchestrator {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	reg := testsupport.MustOpenRegistry(t, cfg)
	store := storage.NewManager(cfg, nil, logging.NewNop())
	client, err := pipeline.NewClient("meshroom_batch", 50*time.Millisecond, pipeline.WithExecutor(engine))
	if err != nil {
		t.Fatal(err)
	}

	o := orchestrator.New(cfg, reg, store, client, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		o.Done()
	})
	o.Start(ctx)
	return o
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

func waitFor(t *testing.T, o *orchestrator.Orchestrator, id string, pred func(registry.Job) bool) registry.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		job, err := o.Status(context.Background(), id)
		if err == nil && pred(job) {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached; last state %s stage=%s progress=%d err=%v", job.Status, job.Stage, job.Progress, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLifecycleCreateReconstructComplete(t *testing.T) {
	steps := make(chan string)
	engine := engineFunc(func(ctx context.Context, _ string, args []string, onLine func(string)) error {
		for line := range steps {
			onLine(line)
		}
		return writeModelOutput(argValue(args, "--output"))
	})
	o := newOrchestrator(t, engine)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, "alice", imageSet(t, 3))
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != registry.StatusCreated {
		t.Fatalf("status after create = %s", job.Status)
	}
	if len(job.InputRefs) != 3 {
		t.Fatalf("input refs = %d", len(job.InputRefs))
	}

	queued, estimate, err := o.Reconstruct(ctx, job.ID, registry.QualityMedium)
	if err != nil {
		t.Fatal(err)
	}
	if queued.Status != registry.StatusQueued {
		t.Fatalf("status after reconstruct = %s", queued.Status)
	}
	// 3 images at medium quality: 18 minutes baseline, doubled upper bound.
	if estimate.Lower != 18*time.Minute || estimate.Upper != 36*time.Minute {
		t.Fatalf("estimate = %s", estimate)
	}

	signals := []struct {
		line     string
		stage    string
		progress int
	}{
		{"PROG:featureExtraction,20", "featureExtraction", 20},
		{"PROG:matching,40", "matching", 40},
		{"PROG:meshing,90", "meshing", 90},
	}
	for _, sig := range signals {
		steps <- sig.line
		got := waitFor(t, o, job.ID, func(j registry.Job) bool {
			return j.Progress == sig.progress && j.Stage == sig.stage
		})
		if got.Status != registry.StatusRunning {
			t.Fatalf("status during %s = %s", sig.stage, got.Status)
		}
	}
	close(steps)

	final := waitFor(t, o, job.ID, func(j registry.Job) bool { return j.Status.Terminal() })
	if final.Status != registry.StatusCompleted {
		t.Fatalf("final status = %s (%s)", final.Status, final.ErrorMessage)
	}
	if final.Progress != 100 {
		t.Fatalf("final progress = %d", final.Progress)
	}
	if final.OutputRef == "" {
		t.Fatal("output ref unset")
	}

	rc, _, err := o.Artifact(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	model, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(model) != "v 0 0 0" {
		t.Fatalf("model content = %q", model)
	}
}

func TestEngineFailureMarksJobFailed(t *testing.T) {
	engine := engineFunc(func(_ context.Context, _ string, _ []string, onLine func(string)) error {
		onLine("ERROR: not enough overlap between images")
		return errors.New("engine exited: exit status 1")
	})
	o := newOrchestrator(t, engine)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, "alice", imageSet(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Reconstruct(ctx, job.ID, registry.QualityLow); err != nil {
		t.Fatal(err)
	}

	final := waitFor(t, o, job.ID, func(j registry.Job) bool { return j.Status.Terminal() })
	if final.Status != registry.StatusFailed {
		t.Fatalf("final status = %s", final.Status)
	}
	if final.ErrorMessage == "" {
		t.Fatal("error message empty")
	}
	if final.OutputRef != "" {
		t.Fatalf("output ref set on failure: %s", final.OutputRef)
	}

	if _, _, err := o.Artifact(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("artifact on failed job = %v, want not found", err)
	}
	if _, _, err := o.ArtifactPath(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("artifact path on failed job = %v, want not found", err)
	}
}

func TestCancelMidRunLandsCancelled(t *testing.T) {
	started := make(chan struct{})
	engine := engineFunc(func(ctx context.Context, _ string, _ []string, onLine func(string)) error {
		onLine("PROG:structureRecovery,50")
		close(started)
		// Simulate an unresponsive engine; only the kill path ends it.
		<-ctx.Done()
		return ctx.Err()
	})
	o := newOrchestrator(t, engine)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, "alice", imageSet(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Reconstruct(ctx, job.ID, registry.QualityMedium); err != nil {
		t.Fatal(err)
	}
	<-started
	waitFor(t, o, job.ID, func(j registry.Job) bool { return j.Status == registry.StatusRunning })

	cancelled, err := o.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != registry.StatusCancelled {
		t.Fatalf("status after cancel = %s", cancelled.Status)
	}

	// Once cancelled, a poll never reads running again.
	for i := 0; i < 10; i++ {
		got, err := o.Status(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != registry.StatusCancelled {
			t.Fatalf("status regressed to %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelQueuedJobNeverStarts(t *testing.T) {
	gate := make(chan struct{})
	engine := engineFunc(func(ctx context.Context, _ string, args []string, _ func(string)) error {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
		return writeModelOutput(argValue(args, "--output"))
	})
	o := newOrchestrator(t, engine, testsupport.WithConcurrency(1, 1))
	ctx := context.Background()

	first, err := o.CreateJob(ctx, "alice", imageSet(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.CreateJob(ctx, "bob", imageSet(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Reconstruct(ctx, first.ID, registry.QualityLow); err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Reconstruct(ctx, second.ID, registry.QualityLow); err != nil {
		t.Fatal(err)
	}
	waitFor(t, o, first.ID, func(j registry.Job) bool { return j.Status != registry.StatusQueued })

	cancelled, err := o.Cancel(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != registry.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}

	close(gate)
	final := waitFor(t, o, first.ID, func(j registry.Job) bool { return j.Status.Terminal() })
	if final.Status != registry.StatusCompleted {
		t.Fatalf("first job = %s (%s)", final.Status, final.ErrorMessage)
	}
	// The withdrawn job never ran.
	got, err := o.Status(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartedAt != nil {
		t.Fatal("cancelled job has a start timestamp")
	}
}

func TestSweepReclaimsCompletedJob(t *testing.T) {
	engine := engineFunc(func(_ context.Context, _ string, args []string, _ func(string)) error {
		return writeModelOutput(argValue(args, "--output"))
	})
	o := newOrchestrator(t, engine, testsupport.WithRetention(0, 1))
	ctx := context.Background()

	job, err := o.CreateJob(ctx, "alice", imageSet(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Reconstruct(ctx, job.ID, registry.QualityLow); err != nil {
		t.Fatal(err)
	}
	waitFor(t, o, job.ID, func(j registry.Job) bool { return j.Status == registry.StatusCompleted })

	if removed := o.SweepNow(ctx); removed != 1 {
		t.Fatalf("sweep removed %d jobs, want 1", removed)
	}
	if _, err := o.Status(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("status after sweep = %v, want not found", err)
	}
	if _, _, err := o.Artifact(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("artifact after sweep = %v, want not found", err)
	}
}

func TestRerunAfterFailure(t *testing.T) {
	attempts := 0
	engine := engineFunc(func(_ context.Context, _ string, args []string, _ func(string)) error {
		attempts++
		if attempts == 1 {
			return errors.New("engine exited: exit status 1")
		}
		return writeModelOutput(argValue(args, "--output"))
	})
	o := newOrchestrator(t, engine)
	ctx := context.Background()

	job, err := o.CreateJob(ctx, "alice", imageSet(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Reconstruct(ctx, job.ID, registry.QualityMedium); err != nil {
		t.Fatal(err)
	}
	failed := waitFor(t, o, job.ID, func(j registry.Job) bool { return j.Status.Terminal() })
	if failed.Status != registry.StatusFailed {
		t.Fatalf("first run = %s", failed.Status)
	}

	if _, _, err := o.Reconstruct(ctx, job.ID, registry.QualityHigh); err != nil {
		t.Fatal(err)
	}
	final := waitFor(t, o, job.ID, func(j registry.Job) bool { return j.Status.Terminal() })
	if final.Status != registry.StatusCompleted {
		t.Fatalf("re-run = %s (%s)", final.Status, final.ErrorMessage)
	}
	if final.ErrorMessage != "" {
		t.Fatalf("stale error survived re-run: %q", final.ErrorMessage)
	}
}

func TestCreateJobValidation(t *testing.T) {
	engine := engineFunc(func(_ context.Context, _ string, _ []string, _ func(string)) error { return nil })
	o := newOrchestrator(t, engine)
	ctx := context.Background()

	if _, err := o.CreateJob(ctx, "  ", imageSet(t, 1)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("blank owner = %v, want validation error", err)
	}
	if _, err := o.CreateJob(ctx, "alice", nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty image set = %v, want validation error", err)
	}

	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.pdf")
	if err := os.WriteFile(doc, []byte("pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := o.CreateJob(ctx, "alice", []string{doc}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unsupported format = %v, want validation error", err)
	}
}

func TestReconstructUnknownJob(t *testing.T) {
	engine := engineFunc(func(_ context.Context, _ string, _ []string, _ func(string)) error { return nil })
	o := newOrchestrator(t, engine)
	_, _, err := o.Reconstruct(context.Background(), "no-such-job", registry.QualityMedium)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}
