package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var (
	dotenvOnce sync.Once
	dotenvPath string
	dotenvErr  error
)

// LoadDotEnv loads the nearest .env file walking up from the working
// directory. Variables already set in the environment win. Later calls are
// no-ops, and tests never read a developer's .env.
func LoadDotEnv() error {
	if runningUnderGoTest() {
		return nil
	}
	dotenvOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			dotenvErr = err
			return
		}
		path, err := findDotEnv(wd)
		if err != nil {
			dotenvErr = err
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			dotenvErr = fmt.Errorf("%s: %w", path, err)
			return
		}
		dotenvPath = path
		log.Debug().Str("dotenv", path).Msg("loaded .env")
	})
	return dotenvErr
}

// DotEnvPath returns the loaded .env path, or "" when none was loaded.
func DotEnvPath() string {
	return dotenvPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

// findDotEnv returns the first .env found in dir or one of its parents.
func findDotEnv(dir string) (string, error) {
	wd := dir
	for {
		candidate := filepath.Join(wd, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", nil
		}
		wd = parent
	}
}
