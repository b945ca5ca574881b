package store

import (
	"time"

	"miping/internal/platform/config"
)

// Config aggregates backend configuration
type Config struct {
	AppName string
	PG      PGConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled   bool
	URL       string
	MaxConns  int32
	LogSQL    bool
	SlowQuery time.Duration

	// ConnectAttempts bounds the startup ping loop
	ConnectAttempts int
}

// FromConfig reads the PG_ keys. Postgres is enabled when PG_URL is set
// PG_URL connection string
// PG_MAX_CONNS (default 4)
// PG_LOG_SQL (default false) logs every statement
// PG_SLOW_QUERY (default 200ms) marks statements as slow
// PG_CONNECT_ATTEMPTS (default 10)
func FromConfig(c config.Conf, appName string) Config {
	p := c.Prefix("PG_")
	url := p.MayString("URL", "")
	return Config{
		AppName: appName,
		PG: PGConfig{
			Enabled:         url != "",
			URL:             url,
			MaxConns:        int32(p.MayInt("MAX_CONNS", 4)),
			LogSQL:          p.MayBool("LOG_SQL", false),
			SlowQuery:       p.MayDuration("SLOW_QUERY", 200*time.Millisecond),
			ConnectAttempts: p.MayInt("CONNECT_ATTEMPTS", 10),
		},
	}
}
