package pipeline

import (
	"os"
	"os/exec"

	"facet/internal/services"
)

// enginePaths are the well-known install locations checked when no
// explicit binary is configured, before falling back to PATH lookup.
var enginePaths = []string{
	"/usr/local/bin/meshroom_batch",
	"/opt/Meshroom/meshroom_batch",
	"/usr/bin/meshroom_batch",
	"/Applications/Meshroom.app/Contents/MacOS/meshroom_batch",
}

// FindEngineBinary resolves the engine executable. An override from config
// wins; it must exist. Discovery failures surface as spawn errors so the
// affected job fails without retry.
func FindEngineBinary(override string) (string, error) {
	if override != "" {
		if path, err := exec.LookPath(override); err == nil {
			return path, nil
		}
		if _, err := os.Stat(override); err == nil {
			return override, nil
		}
		return "", services.Wrap(services.ErrSpawn, "pipeline", "discover engine", "configured engine binary "+override+" not found", nil)
	}
	for _, path := range enginePaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if path, err := exec.LookPath("meshroom_batch"); err == nil {
		return path, nil
	}
	return "", services.Wrap(services.ErrSpawn, "pipeline", "discover engine", "meshroom_batch not found in well-known locations or PATH", nil)
}
