package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config selects a driver. Empty or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// Store is the persistence API used by the audit writer and the suppression ledger.
type Store interface {
	AppendAudit(ctx context.Context, e notify.AuditEntry) error
	// ClaimSuppression records key as suppressed until the given instant,
	// unless an unexpired claim (until > now) already exists. It reports
	// whether the claim was taken.
	ClaimSuppression(ctx context.Context, key string, until, now time.Time) (bool, error)
	GetSuppression(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
