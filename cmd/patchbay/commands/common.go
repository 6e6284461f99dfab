package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/patchbay/internal/catalog"
	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/grammar"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/internal/routing"
)

// loadConfig reads the config file and applies environment overrides. A
// missing file at the default path falls back to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, printer.ErrorWithContext(
				"invalid configuration",
				err.Error(),
				map[string]string{"Config": path},
				[]string{"Check the file against the example in the README"},
			)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, printer.Error("invalid environment override", err.Error(), nil)
	}
	return cfg, nil
}

// catalogs holds the loaded module and output catalogs.
type catalogs struct {
	modules   *catalog.Modules
	outputs   *catalog.Outputs
	validator *grammar.Validator
}

func loadCatalogs(cfg *config.Config) (*catalogs, error) {
	modules, err := catalog.LoadModules(cfg.Catalog.Modules)
	if err != nil {
		return nil, printer.ErrorWithContext("failed to load module catalog", err.Error(),
			map[string]string{"Path": orBuiltin(cfg.Catalog.Modules)}, nil)
	}
	outputs, err := catalog.LoadOutputs(cfg.Catalog.Outputs)
	if err != nil {
		return nil, printer.ErrorWithContext("failed to load output catalog", err.Error(),
			map[string]string{"Path": orBuiltin(cfg.Catalog.Outputs)}, nil)
	}
	return &catalogs{modules: modules, outputs: outputs, validator: grammar.NewValidator(modules)}, nil
}

func orBuiltin(path string) string {
	if path == "" {
		return "(built-in)"
	}
	return path
}

// connectRedis opens a client and verifies connectivity.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, printer.Error("invalid Redis URL", err.Error(), []string{"Set redis.url in patchbay.yml or REDIS_URL"})
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.URL),
			map[string]string{"Error": err.Error()},
			[]string{
				"Start Redis locally:\n  docker run -p 6379:6379 redis:7-alpine",
				"Point patchbay at a running Redis:\n  REDIS_URL=redis://host:6379 patchbay serve",
			},
		)
	}
	return rdb, nil
}

// routeStore selects the configured routing persistence. rdb may be nil for
// the file store.
func routeStore(cfg *config.Config, rdb *redis.Client) routing.Store {
	if cfg.Routing.Store == config.StoreFile {
		return routing.NewFileStore(cfg.Routing.Path)
	}
	return routing.NewRedisStore(rdb, cfg.Namespace)
}

// needsRedisForRoutes reports whether route commands must connect to Redis.
func needsRedisForRoutes(cfg *config.Config) bool {
	return cfg.Routing.Store != config.StoreFile
}
