package config

import (
	"time"

	"go.uber.org/zap"
)

// Config defines cross-cutting concerns shared by the gateway components.
type Config struct {
	Logger      *zap.SugaredLogger
	Environment *Environment
}

// Named returns a copy of the config whose logger is scoped to the given component.
func (c Config) Named(component string) Config {
	return Config{
		Logger:      c.Logger.Named(component),
		Environment: c.Environment,
	}
}

// CacheExpiration is the time-to-live applied to adviser, provenance and build analysis cache records.
func (c Config) CacheExpiration() time.Duration {
	return time.Duration(c.Environment.CacheExpirationSec) * time.Second
}

// AnalysisCacheExpiration is the time-to-live of image analysis cache records.  Zero disables
// expiration.
func (c Config) AnalysisCacheExpiration() time.Duration {
	return time.Duration(c.Environment.AnalysisCacheExpirationSec) * time.Second
}
