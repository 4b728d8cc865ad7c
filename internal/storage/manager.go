package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"facet/internal/config"
	"facet/internal/fileutil"
	"facet/internal/logging"
	"facet/internal/services"
)

// modelExtensions are the engine output files CollectModel gathers next to
// the mesh itself.
var modelExtensions = map[string]bool{
	".mtl":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".exr":  true,
}

// ModelInfo is the sidecar written next to a collected model.
type ModelInfo struct {
	JobID       string    `json:"job_id"`
	ModelFile   string    `json:"model_file"`
	Textures    []string  `json:"textures"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Manager is the two-tier artifact store. The local tier lives under the
// data directory; the remote tier mirrors selected artifact kinds.
type Manager struct {
	root    string
	remote  ObjectStore
	mirror  map[Kind]bool
	retries int
	logger  *slog.Logger
}

// NewManager builds a manager over the local tier rooted in the data
// directory. remote may be nil when the remote tier is disabled.
func NewManager(cfg *config.Config, remote ObjectStore, logger *slog.Logger) *Manager {
	mirror := make(map[Kind]bool, len(cfg.Storage.MirrorKinds))
	if remote != nil {
		for _, kind := range cfg.Storage.MirrorKinds {
			mirror[Kind(kind)] = true
		}
	}
	return &Manager{
		root:    filepath.Join(cfg.Paths.DataDir, "artifacts"),
		remote:  remote,
		mirror:  mirror,
		retries: cfg.Storage.RetryAttempts,
		logger:  logging.NewComponentLogger(logger, "storage"),
	}
}

// LocalPath returns the local tier path for a key.
func (m *Manager) LocalPath(key string) string {
	return filepath.Join(m.root, filepath.FromSlash(key))
}

// Put streams src into the local tier under key and mirrors it to the
// remote tier when the kind's mirror policy says so.
func (m *Manager) Put(ctx context.Context, kind Kind, key string, src io.Reader) (Locator, error) {
	dest := m.LocalPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Locator{}, services.Wrap(services.ErrStorage, "storage", "put", "create artifact directory", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return Locator{}, services.Wrap(services.ErrStorage, "storage", "put", "create artifact", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return Locator{}, services.Wrap(services.ErrStorage, "storage", "put", "write artifact", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return Locator{}, services.Wrap(services.ErrStorage, "storage", "put", "flush artifact", err)
	}

	if err := m.mirrorKey(ctx, kind, key); err != nil {
		return Locator{}, err
	}
	return Locator{Tier: TierLocal, Key: key}, nil
}

// PutFile copies srcPath into the local tier with integrity verification.
func (m *Manager) PutFile(ctx context.Context, kind Kind, key, srcPath string) (Locator, error) {
	dest := m.LocalPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Locator{}, services.Wrap(services.ErrStorage, "storage", "put file", "create artifact directory", err)
	}
	if err := fileutil.CopyFileVerified(srcPath, dest); err != nil {
		return Locator{}, services.Wrap(services.ErrStorage, "storage", "put file", fmt.Sprintf("store %s", key), err)
	}
	if err := m.mirrorKey(ctx, kind, key); err != nil {
		return Locator{}, err
	}
	return Locator{Tier: TierLocal, Key: key}, nil
}

// Open returns a reader for the artifact behind loc. A local-tier miss
// falls back to the remote mirror before reporting not found.
func (m *Manager) Open(ctx context.Context, loc Locator) (io.ReadCloser, error) {
	if loc.Tier == TierLocal {
		f, err := os.Open(m.LocalPath(loc.Key))
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrStorage, "storage", "open", fmt.Sprintf("read %s", loc.Key), err)
		}
		if m.remote == nil {
			return nil, services.Wrap(services.ErrNotFound, "storage", "open", fmt.Sprintf("artifact %s missing", loc), nil)
		}
	}
	if m.remote == nil {
		return nil, services.Wrap(services.ErrNotFound, "storage", "open", fmt.Sprintf("remote tier disabled, artifact %s unreachable", loc), nil)
	}
	body, err := m.remote.GetObject(ctx, loc.Key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, services.Wrap(services.ErrNotFound, "storage", "open", fmt.Sprintf("artifact %s missing", loc), nil)
		}
		return nil, services.Wrap(services.ErrStorage, "storage", "open", fmt.Sprintf("fetch %s", loc.Key), err)
	}
	return body, nil
}

// Delete removes the artifact behind loc from both tiers. Missing
// artifacts are a no-op so deletes stay idempotent.
func (m *Manager) Delete(ctx context.Context, loc Locator) error {
	if err := os.Remove(m.LocalPath(loc.Key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrStorage, "storage", "delete", fmt.Sprintf("remove %s", loc.Key), err)
	}
	if m.remote != nil {
		if err := m.remote.DeleteObject(ctx, loc.Key); err != nil {
			return services.Wrap(services.ErrStorage, "storage", "delete", fmt.Sprintf("remove remote %s", loc.Key), err)
		}
	}
	return nil
}

// PurgeJob removes whatever remains of a job's local tier directory.
// Callers delete recorded locators first so remote mirrors go with them.
func (m *Manager) PurgeJob(jobID string) error {
	if err := os.RemoveAll(m.LocalPath(jobPrefix(jobID))); err != nil {
		return services.Wrap(services.ErrStorage, "storage", "purge job", fmt.Sprintf("remove job %s artifacts", jobID), err)
	}
	return nil
}

// EnsureLocal guarantees the artifact behind loc exists on the local tier
// and returns its path, refetching from the remote mirror when needed.
func (m *Manager) EnsureLocal(ctx context.Context, loc Locator) (string, error) {
	local := m.LocalPath(loc.Key)
	if _, err := os.Stat(local); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrStorage, "storage", "ensure local", fmt.Sprintf("stat %s", loc.Key), err)
		}
		if err := m.fetchRemote(ctx, loc.Key, local); err != nil {
			return "", err
		}
	}
	return local, nil
}

// MaterializeLocally stages the artifacts behind locs into destDir,
// preserving order. Local-tier misses are refetched from the remote
// mirror with bounded retries.
func (m *Manager) MaterializeLocally(ctx context.Context, locs []Locator, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "storage", "materialize", "create work directory", err)
	}

	paths := make([]string, 0, len(locs))
	for _, loc := range locs {
		local := m.LocalPath(loc.Key)
		if _, err := os.Stat(local); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, services.Wrap(services.ErrStorage, "storage", "materialize", fmt.Sprintf("stat %s", loc.Key), err)
			}
			if err := m.fetchRemote(ctx, loc.Key, local); err != nil {
				return nil, err
			}
		}
		dest := filepath.Join(destDir, path.Base(loc.Key))
		if err := fileutil.CopyFile(local, dest); err != nil {
			return nil, services.Wrap(services.ErrStorage, "storage", "materialize", fmt.Sprintf("stage %s", loc.Key), err)
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

// CollectModel gathers the reconstructed mesh plus its textures and
// materials out of the engine's output directory into the job's model
// directory, writes the model_info.json sidecar, and returns the model's
// locator with the collected file names.
func (m *Manager) CollectModel(ctx context.Context, jobID, outputDir string) (Locator, []string, error) {
	var modelPath string
	var extras []string
	err := filepath.WalkDir(outputDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		switch {
		case ext == ".obj" && modelPath == "":
			modelPath = p
		case modelExtensions[ext]:
			extras = append(extras, p)
		}
		return nil
	})
	if err != nil {
		return Locator{}, nil, services.Wrap(services.ErrStorage, "storage", "collect model", "scan engine output", err)
	}
	if modelPath == "" {
		return Locator{}, nil, services.Wrap(services.ErrPipeline, "storage", "collect model", "engine produced no model file", nil)
	}
	sort.Strings(extras)

	modelLoc, err := m.PutFile(ctx, KindModel, ModelKey(jobID), modelPath)
	if err != nil {
		return Locator{}, nil, err
	}
	files := []string{"model.obj"}
	textures := make([]string, 0, len(extras))
	for _, extra := range extras {
		name := filepath.Base(extra)
		if _, err := m.PutFile(ctx, KindModel, ModelFileKey(jobID, name), extra); err != nil {
			return Locator{}, nil, err
		}
		files = append(files, name)
		textures = append(textures, name)
	}

	info := ModelInfo{
		JobID:       jobID,
		ModelFile:   "model.obj",
		Textures:    textures,
		GeneratedAt: time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return Locator{}, nil, services.Wrap(services.ErrStorage, "storage", "collect model", "encode model info", err)
	}
	sidecar := m.LocalPath(ModelFileKey(jobID, "model_info.json"))
	if err := fileutil.WriteFileAtomic(sidecar, payload); err != nil {
		return Locator{}, nil, services.Wrap(services.ErrStorage, "storage", "collect model", "write model info", err)
	}
	if err := m.mirrorKey(ctx, KindModel, ModelFileKey(jobID, "model_info.json")); err != nil {
		return Locator{}, nil, err
	}
	files = append(files, "model_info.json")

	m.logger.Info("model collected",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("files", len(files)))
	return modelLoc, files, nil
}

// StoreLog copies a finished pipeline log into the job's log location.
func (m *Manager) StoreLog(ctx context.Context, jobID, srcPath string) (Locator, error) {
	return m.PutFile(ctx, KindLog, LogKey(jobID), srcPath)
}

func (m *Manager) mirrorKey(ctx context.Context, kind Kind, key string) error {
	if !m.mirror[kind] {
		return nil
	}
	f, err := os.Open(m.LocalPath(key))
	if err != nil {
		return services.Wrap(services.ErrStorage, "storage", "mirror", fmt.Sprintf("reopen %s", key), err)
	}
	defer f.Close()
	if err := m.remote.PutObject(ctx, key, f); err != nil {
		return services.Wrap(services.ErrStorage, "storage", "mirror", fmt.Sprintf("upload %s", key), err)
	}
	return nil
}

// fetchRemote pulls key from the remote tier into the local tier path with
// bounded retries. Not-found short-circuits without retrying.
func (m *Manager) fetchRemote(ctx context.Context, key, dest string) error {
	if m.remote == nil {
		return services.Wrap(services.ErrNotFound, "storage", "fetch", fmt.Sprintf("artifact %s missing and remote tier disabled", key), nil)
	}

	attempts := m.retries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return services.Wrap(services.ErrStorage, "storage", "fetch", fmt.Sprintf("fetch %s interrupted", key), ctx.Err())
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		body, err := m.remote.GetObject(ctx, key)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return services.Wrap(services.ErrNotFound, "storage", "fetch", fmt.Sprintf("artifact %s missing in both tiers", key), nil)
			}
			lastErr = err
			m.logger.Warn("remote fetch failed",
				logging.String("key", key),
				logging.Int("attempt", attempt),
				logging.Error(err))
			continue
		}
		err = m.writeStream(dest, body)
		body.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return services.Wrap(services.ErrStorage, "storage", "fetch", fmt.Sprintf("fetch %s after %d attempts", key, attempts), lastErr)
}

func (m *Manager) writeStream(dest string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dest)
}
