package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/pipeline"
	"facet/internal/registry"
	"facet/internal/storage"
	"facet/internal/testsupport"
)

// scriptedEngine fakes the external engine: it replays output lines,
// optionally writes a model into the output directory, and can block
// until cancelled.
type scriptedEngine struct {
	lines        []string
	produceModel bool
	exitErr      error
	block        bool
	started      chan struct{}
}

func (e *scriptedEngine) Run(ctx context.Context, _ string, args []string, onLine func(string)) error {
	if e.started != nil {
		close(e.started)
	}
	for _, line := range e.lines {
		onLine(line)
	}
	if e.produceModel {
		outputDir := argValue(args, "--output")
		meshDir := filepath.Join(outputDir, "texturedMesh")
		if err := os.MkdirAll(meshDir, 0o755); err != nil {
			return err
		}
		for name, content := range map[string]string{
			"mesh.obj":      "v 0 0 0",
			"texture_0.png": "png",
		} {
			if err := os.WriteFile(filepath.Join(meshDir, name), []byte(content), 0o644); err != nil {
				return err
			}
		}
	}
	if e.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return e.exitErr
}

type fixture struct {
	cfg   *config.Config
	reg   *registry.Registry
	store *storage.Manager
	sup   *pipeline.Supervisor
}

func newFixture(t *testing.T, engine *scriptedEngine, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	reg := testsupport.MustOpenRegistry(t, cfg)
	store := storage.NewManager(cfg, nil, logging.NewNop())
	client, err := pipeline.NewClient("meshroom_batch", 50*time.Millisecond, pipeline.WithExecutor(engine))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		cfg:   cfg,
		reg:   reg,
		store: store,
		sup:   pipeline.NewSupervisor(cfg, reg, store, client, logging.NewNop()),
	}
}

// seedQueuedJob uploads three images and leaves the job queued.
func (f *fixture) seedQueuedJob(t *testing.T, quality registry.Quality) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()

	var refs []string
	for i, content := range []string{"front", "side", "back"} {
		loc, err := f.store.Put(ctx, storage.KindImage, storage.ImageKey(id, i, ".jpg"), strings.NewReader(content))
		if err != nil {
			t.Fatal(err)
		}
		refs = append(refs, loc.String())
	}
	if _, err := f.reg.Create(ctx, id, "alice", refs); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.RequestReconstruct(ctx, id, quality); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestRunCompletesJob(t *testing.T) {
	engine := &scriptedEngine{
		lines: []string{
			"[1/6] FeatureExtraction",
			"PROG:featureExtraction,20",
			"PROG:matching,40",
			"PROG:texturing,95",
		},
		produceModel: true,
	}
	f := newFixture(t, engine)
	id := f.seedQueuedJob(t, registry.QualityMedium)

	f.sup.Run(context.Background(), id)

	job, err := f.reg.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != registry.StatusCompleted {
		t.Fatalf("status = %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d", job.Progress)
	}
	if job.OutputRef != "local:"+storage.ModelKey(id) {
		t.Fatalf("output ref = %s", job.OutputRef)
	}
	if job.LogRef != "local:"+storage.LogKey(id) {
		t.Fatalf("log ref = %s", job.LogRef)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatal("timestamps not recorded")
	}

	// The model and sidecar landed in the local tier.
	for _, key := range []string{
		storage.ModelKey(id),
		storage.ModelFileKey(id, "texture_0.png"),
		storage.ModelFileKey(id, "model_info.json"),
	} {
		if _, err := os.Stat(f.store.LocalPath(key)); err != nil {
			t.Fatalf("missing artifact %s: %v", key, err)
		}
	}

	// Staging was torn down.
	if _, err := os.Stat(filepath.Join(f.cfg.Paths.StagingDir, id)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staging dir survived: %v", err)
	}
}

func TestRunRecordsPipelineLog(t *testing.T) {
	engine := &scriptedEngine{
		lines:        []string{"Loading 3 images", "PROG:meshing,80"},
		produceModel: true,
	}
	f := newFixture(t, engine)
	id := f.seedQueuedJob(t, registry.QualityLow)

	f.sup.Run(context.Background(), id)

	data, err := os.ReadFile(f.store.LocalPath(storage.LogKey(id)))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Loading 3 images") {
		t.Fatalf("log missing engine output: %q", data)
	}
}

func TestRunFailureCapturesOutputTail(t *testing.T) {
	engine := &scriptedEngine{
		lines:   []string{"Loading images", "ERROR: camera intrinsics missing"},
		exitErr: errors.New("engine exited: exit status 1"),
	}
	f := newFixture(t, engine)
	id := f.seedQueuedJob(t, registry.QualityMedium)

	f.sup.Run(context.Background(), id)

	job, err := f.reg.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != registry.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "ERROR: camera intrinsics missing") {
		t.Fatalf("error message missing diagnostic tail: %q", job.ErrorMessage)
	}
}

func TestRunTimeoutFailsJob(t *testing.T) {
	engine := &scriptedEngine{block: true}
	f := newFixture(t, engine, func(c *config.Config) {
		c.Pipeline.TimeoutLow = 1
	})
	id := f.seedQueuedJob(t, registry.QualityLow)

	f.sup.Run(context.Background(), id)

	job, err := f.reg.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != registry.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "timed out") {
		t.Fatalf("error message = %q, want timeout reason", job.ErrorMessage)
	}
}

func TestRunCancellationLeavesCancelledState(t *testing.T) {
	engine := &scriptedEngine{block: true, started: make(chan struct{})}
	f := newFixture(t, engine)
	id := f.seedQueuedJob(t, registry.QualityMedium)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sup.Run(ctx, id)
	}()

	<-engine.started
	if _, _, err := f.reg.Cancel(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not tear down")
	}

	job, err := f.reg.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != registry.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
	if job.ErrorMessage != "" {
		t.Fatalf("cancellation recorded an error: %q", job.ErrorMessage)
	}
}

func TestRunFailsWhenEngineProducesNoModel(t *testing.T) {
	engine := &scriptedEngine{lines: []string{"PROG:texturing,99"}}
	f := newFixture(t, engine)
	id := f.seedQueuedJob(t, registry.QualityMedium)

	f.sup.Run(context.Background(), id)

	job, err := f.reg.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != registry.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "collect model") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
}
