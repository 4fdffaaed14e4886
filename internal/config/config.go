// Package config holds the environment-driven configuration of the
// binaries. The SDK packages themselves take explicit options; only the
// executables read the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Client configures the demo client binary.
type Client struct {
	ServerURL   string        `env:"SERVER_URL" envDefault:"http://localhost:8080"`
	TokenFile   string        `env:"TOKEN_FILE" envDefault:".villagestay-auth.json"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool          `env:"LOG_PRETTY" envDefault:"true"`
}

// DevServer configures the development auth backend.
type DevServer struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	AppName         string        `env:"APP_NAME" envDefault:"VillageStay Auth"`
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	Issuer          string        `env:"TOKEN_ISSUER" envDefault:"villagestay-dev"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`
}

// LoadClient parses the client configuration from the environment.
func LoadClient() (Client, error) {
	cfg, err := env.ParseAs[Client]()
	if err != nil {
		return Client{}, errors.Wrap(err, "[LoadClient] parse env")
	}
	return cfg, nil
}

// LoadDevServer parses the dev server configuration from the environment.
func LoadDevServer() (DevServer, error) {
	cfg, err := env.ParseAs[DevServer]()
	if err != nil {
		return DevServer{}, errors.Wrap(err, "[LoadDevServer] parse env")
	}
	return cfg, nil
}

// Addr returns the listen address in ":port" form.
func (c DevServer) Addr() string {
	if len(c.Port) > 0 && c.Port[0] == ':' {
		return c.Port
	}
	return ":" + c.Port
}
