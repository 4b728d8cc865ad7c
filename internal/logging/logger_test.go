package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"facet/internal/logging"
	"facet/internal/services"
)

func TestNewWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "facet.log")

	logger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("engine started", logging.String(logging.FieldJobID, "job-1"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	for _, fragment := range []string{`"msg":"engine started"`, `"job_id":"job-1"`, `"level":"info"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in log output %q", fragment, content)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "facet.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := services.WithJobID(context.Background(), "job-42")
	ctx = services.WithRequestID(ctx, "req-7")
	logging.WithContext(ctx, logger).Info("progress")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	for _, fragment := range []string{`"job_id":"job-42"`, `"correlation_id":"req-7"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in log output %q", fragment, content)
		}
	}
}

func TestWithContextNilLogger(t *testing.T) {
	logger := logging.WithContext(context.Background(), nil)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Info("no-op")
}
