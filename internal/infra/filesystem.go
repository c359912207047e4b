package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
)

// WorkDir expands dir and the optional sub path, creating the result if needed.
func WorkDir(dir string, path ...string) (string, error) {
	parts := append([]string{dir}, path...)
	workDir, err := homedir.Expand(filepath.Join(parts...))
	if err != nil {
		return "", fmt.Errorf("expand work dir: %w", err)
	}
	if err = os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	log.WithField("dir", workDir).Trace("work dir ready")
	return workDir, nil
}
