package pathing

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDirs creates the given directories, or the default data and log
// directories when none are given.
func EnsureDirs(dirs ...string) error {
	if len(dirs) == 0 {
		dirs = []string{
			GetDataDir(),
			GetBatchDir(),
			GetLogDir(),
		}
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
	}
	return nil
}

func GetCatalogDbPath() string {
	return filepath.Join(GetDataDir(), "sky-catalog.db")
}

// GetBatchDir is the default root of the YYYY/MM/DD batch file tree.
func GetBatchDir() string {
	return filepath.Join(GetDataDir(), "batches")
}

func GetDataDir() string {
	return "/var/lib/sky_sensor_logger"
}

func GetConfigDir() string {
	return "/etc/sky_sensor_logger"
}

func GetLogDir() string {
	return "/var/log/sky_sensor_logger"
}
