package persistence

import (
	"fmt"

	"github.com/aquamarinepk/evbus/config"
	"github.com/aquamarinepk/evbus/log"
)

// New selects a Store implementation by cfg.Driver, the same
// engine-string switch db.Database uses to pick its SQL driver.
func New(cfg config.PersistenceConfig, logger log.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "none":
		return NoopStore{}, nil
	case "postgres":
		return NewPostgresStore(cfg, logger), nil
	case "mongo":
		return NewMongoStore(cfg, logger), nil
	default:
		return nil, fmt.Errorf("persistence: unknown driver %q", cfg.Driver)
	}
}
