package ops

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
)

// Environment variables holding secrets.
const (
	EnvAPIKey     = "QUANTIX_API_KEY"
	EnvAPISecret  = "QUANTIX_API_SECRET"
	EnvPGPassword = "QUANTIX_PG_PASSWORD"
)

// Credentials are read from the environment only.
type Credentials struct {
	APIKey     string
	APISecret  string
	PGPassword string
}

// LoadEnv loads .env files into the process environment. Missing files are
// skipped; with no arguments ./.env is tried. Variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "stat env file %s", f)
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "load env file %s", f)
		}
	}
	return nil
}

// CredentialsFromEnv reads venue and database secrets.
func CredentialsFromEnv() Credentials {
	return Credentials{
		APIKey:     os.Getenv(EnvAPIKey),
		APISecret:  os.Getenv(EnvAPISecret),
		PGPassword: os.Getenv(EnvPGPassword),
	}
}

// RequireVenue fails when the venue key pair is incomplete.
func (c Credentials) RequireVenue() error {
	if c.APIKey == "" || c.APISecret == "" {
		return errors.Errorf("%s and %s must be set", EnvAPIKey, EnvAPISecret)
	}
	return nil
}

// Duration is a time.Duration written as "250ms" or "5s" in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(data))
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", data)
	}
	*d = Duration(v)
	return nil
}
