package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyrelay/internal/config"
	"notifyrelay/internal/directory"
	logx "notifyrelay/pkg/logx"
)

// openDirectory returns the directory, an optional reload func for the
// scheduler, and a close func.
func openDirectory(ctx context.Context, cfg config.DirectoryConfig, log logx.Logger) (directory.Directory, func(context.Context) error, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		mem, err := directory.LoadFile(cfg.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("directory: %w", err)
		}
		contacts, groups := mem.Counts()
		log.Info("directory loaded", logx.String("path", cfg.Path), logx.Int("contacts", contacts), logx.Int("groups", groups))
		reload := func(context.Context) error {
			if err := mem.Reload(cfg.Path); err != nil {
				return fmt.Errorf("directory reload: %w", err)
			}
			c, g := mem.Counts()
			log.Debug("directory reloaded", logx.Int("contacts", c), logx.Int("groups", g))
			return nil
		}
		return mem, reload, noop, nil
	case "sqlite":
		db, err := directory.OpenSQLite(cfg.Path, 2*time.Second)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("directory: %w", err)
		}
		var reload func(context.Context) error
		if seedPath := strings.TrimSpace(cfg.Seed); seedPath != "" {
			reload = func(ctx context.Context) error {
				seed, err := directory.LoadSeed(seedPath)
				if err != nil {
					return fmt.Errorf("directory seed: %w", err)
				}
				return db.Import(ctx, seed)
			}
			if err := reload(ctx); err != nil {
				_ = db.Close()
				return nil, nil, nil, err
			}
			log.Info("directory seed imported", logx.String("seed", seedPath))
		}
		return db, reload, db.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown directory.driver: %s", cfg.Driver)
	}
}
