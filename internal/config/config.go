// Package config assembles the server's configuration by first reading an
// HCL configuration file and then overlaying any environment variables
// found on top, which always win (https://12factor.net/config).
//
// All environment variables are prefixed with "RELAY". Ex: RELAY_LOG_LEVEL=debug
package config

import (
	"errors"
	"log"
	"os"
	"time"
)

func mustParseDuration(duration string) time.Duration {
	parsed, err := time.ParseDuration(duration)
	if err != nil {
		log.Fatalf("could not parse duration %q: %v", duration, err)
	}
	return parsed
}

// searchFilePaths returns the first path in order that exists and is a
// regular file.
func searchFilePaths(paths ...string) string {
	for _, path := range paths {
		if path == "" {
			continue
		}

		stat, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if stat != nil && stat.IsDir() {
			continue
		}

		return path
	}

	return ""
}
