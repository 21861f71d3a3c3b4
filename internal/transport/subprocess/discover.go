package subprocess

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/wagiedev/parabox-connector-go/internal/errors"
)

// DefaultBinary is the executable searched for when no explicit path is set.
const DefaultBinary = "parabox"

// Discover locates the core binary.
//
// An explicit path is used as-is and only checked for existence. Otherwise
// the system PATH is searched, then /usr/local/bin, /usr/bin and
// ~/.local/bin.
func Discover(log *slog.Logger, explicit string) (string, error) {
	if explicit != "" {
		log.Debug("Using explicit core path", "core_path", explicit)

		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}

		return "", &errors.CoreNotFoundError{SearchedPaths: []string{explicit}}
	}

	searched := make([]string, 0, 4)

	if path, err := exec.LookPath(DefaultBinary); err == nil {
		log.Debug("Found core in PATH", "path", path)

		return path, nil
	}

	searched = append(searched, "$PATH")

	common := []string{
		filepath.Join("/usr/local/bin", DefaultBinary),
		filepath.Join("/usr/bin", DefaultBinary),
	}

	if home, err := os.UserHomeDir(); err == nil {
		common = append(common, filepath.Join(home, ".local/bin", DefaultBinary))
	}

	for _, path := range common {
		searched = append(searched, path)

		if _, err := os.Stat(path); err == nil {
			log.Debug("Found core at common path", "path", path)

			return path, nil
		}
	}

	log.Warn("Core binary not found in any searched paths", "searched_paths", searched)

	return "", &errors.CoreNotFoundError{SearchedPaths: searched}
}
