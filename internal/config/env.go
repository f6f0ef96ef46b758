package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded when no explicit env file is given.
const DefaultEnvFile = ".env"

// LoadEnvFile loads environment variables from a .env file. Variables that are
// already set win. A missing default file is not an error; a missing explicit
// one is. It reports whether a file was loaded.
func LoadEnvFile(envFile string) (bool, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}

	if _, err := os.Stat(envFile); errors.Is(err, fs.ErrNotExist) {
		if explicit {
			return false, fmt.Errorf("env file %s not found", envFile)
		}
		return false, nil
	}

	if err := godotenv.Load(envFile); err != nil {
		return false, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return true, nil
}
