package config

import (
	"log/slog"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads .env and .env.local for local development. Existing
// process environment variables are never overwritten, and a missing file is
// not an error.
func loadEnvFiles() {
	for _, path := range []string{".env", ".env.local"} {
		if err := godotenv.Load(path); err == nil {
			slog.Debug("loaded environment file", "path", path)
		}
	}
}
