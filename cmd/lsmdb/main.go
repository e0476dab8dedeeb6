// Command lsmdb is a minimal demo entry point: it opens a store at a
// configurable data directory, runs a few Put/Get/Delete/Range
// operations so the log output shows the engine working end to end, and
// exits. It is deliberately not a server: spec.md's engine is an
// in-process library, not something fronted by RPC/HTTP (§ Non-goals).
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"

	"lsmtree/pkg/config"
	"lsmtree/pkg/lsmdb"
	"lsmtree/pkg/tablekey"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to config.Default)")
	dataDir := flag.String("dir", "./data", "data directory, used unless the YAML config sets persistence.path")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *dataDir)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	slog.Info("lsmdb starting", "rootPath", cfg.Persistence.RootPath)

	db, err := lsmdb.Open(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	demo(db)

	slog.Info("lsmdb stopped")
}

// loadConfig reads a YAML file when path is non-empty, falling back to
// config.Default(dataDir) when it is absent.
func loadConfig(path, dataDir string) (config.Config, error) {
	if path == "" {
		return config.Default(dataDir), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return config.Default(dataDir), nil
		}
		return config.Config{}, err
	}
	cfg := config.Default(dataDir)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) {
	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	slog.SetDefault(slog.New(handler))
}

func demo(db *lsmdb.DB) {
	slog.Info("running demo operations")

	if err := db.Put(1, 100); err != nil {
		slog.Error("put failed", "key", 1, "error", err)
	}
	if err := db.Put(2, 200); err != nil {
		slog.Error("put failed", "key", 2, "error", err)
	}
	if err := db.Put(3, 300); err != nil {
		slog.Error("put failed", "key", 3, "error", err)
	}

	if uv, ok, err := db.Get(1); err != nil {
		slog.Error("get failed", "key", 1, "error", err)
	} else if ok {
		slog.Info("get", "key", 1, "value", uv)
	}

	if err := db.Put(1, 150); err != nil {
		slog.Error("put failed", "key", 1, "error", err)
	}
	if uv, ok, err := db.Get(1); err != nil {
		slog.Error("get failed", "key", 1, "error", err)
	} else if ok {
		slog.Info("get after update", "key", 1, "value", uv)
	}

	if err := db.Delete(2); err != nil {
		slog.Error("delete failed", "key", 2, "error", err)
	}
	if _, ok, err := db.Get(2); err != nil {
		slog.Error("get failed", "key", 2, "error", err)
	} else if ok {
		slog.Error("key 2 should be deleted but was found")
	} else {
		slog.Info("key 2 successfully deleted")
	}

	entries, err := db.Range(tablekey.UserKey(0), tablekey.UserKey(10))
	if err != nil {
		slog.Error("range failed", "error", err)
		return
	}
	for _, e := range entries {
		slog.Info("range entry", "key", e.UK, "value", e.UV)
	}

	slog.Info("demo completed")
}
