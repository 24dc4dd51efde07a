package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/retro/internal/config"
)

// CheckExisting returns an error if dir already holds a retro.yml.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, config.DefaultPath)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("found existing: %s\n\nUse 'retro init --force' to reinitialize (this will overwrite existing configuration)", config.DefaultPath)
	}
	return nil
}
