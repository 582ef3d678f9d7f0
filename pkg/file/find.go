package file

import (
	"os"
	"path/filepath"
	"time"
)

// FindModifiedAfter walks dir and returns regular files whose modification
// time is after startTime. A zero startTime matches everything.
func FindModifiedAfter(dir string, startTime time.Time) ([]string, error) {
	var found []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo,
		err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.ModTime().After(startTime) {
			found = append(found, path)
		}
		return nil
	})

	return found, err
}
