package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/osda-portal/apiserver/config"
	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/storage"
)

const (
	SourceBuiltin = "builtin"
	SourceFile    = "file"
	SourceStorage = "storage"
)

// Loader reads the role to permission table from its configured source and
// installs it into the live permission set.
type Loader struct {
	source  string
	file    string
	key     string
	objects storage.ObjectStorage
	logger  *slog.Logger
	onSwap  func(auth.PermissionTable)
}

// NewLoader validates cfg. objects is required only for the storage source.
func NewLoader(cfg config.PermissionsConfig, objects storage.ObjectStorage, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		source:  strings.ToLower(strings.TrimSpace(cfg.Source)),
		file:    cfg.File,
		key:     cfg.ObjectKey,
		objects: objects,
		logger:  logger,
	}
	switch l.source {
	case "", SourceBuiltin:
		l.source = SourceBuiltin
	case SourceFile:
		if strings.TrimSpace(l.file) == "" {
			return nil, errors.New("permissions file is required for the file source")
		}
	case SourceStorage:
		if objects == nil {
			return nil, errors.New("object storage is required for the storage source")
		}
		if strings.TrimSpace(l.key) == "" {
			return nil, errors.New("permissions object key is required for the storage source")
		}
	default:
		return nil, fmt.Errorf("unsupported permissions source: %s", cfg.Source)
	}
	return l, nil
}

// Source names where tables are read from.
func (l *Loader) Source() string {
	return l.source
}

// OnSwap registers fn to be called after a table with a new version is
// installed.
func (l *Loader) OnSwap(fn func(auth.PermissionTable)) {
	l.onSwap = fn
}

// Load reads and validates the table from the source.
func (l *Loader) Load(ctx context.Context) (auth.PermissionTable, error) {
	switch l.source {
	case SourceFile:
		data, err := os.ReadFile(l.file)
		if err != nil {
			return auth.PermissionTable{}, fmt.Errorf("read permissions file: %w", err)
		}
		return auth.ParsePermissionTable(data)
	case SourceStorage:
		data, err := storage.ReadBytes(ctx, l.objects, l.key)
		if err != nil {
			return auth.PermissionTable{}, fmt.Errorf("read permissions object %s: %w", l.key, err)
		}
		return auth.ParsePermissionTable(data)
	default:
		return auth.DefaultPermissionTable(), nil
	}
}

// Refresh loads the table and swaps it into permissions. On error the
// current table stays active.
func (l *Loader) Refresh(ctx context.Context, permissions *auth.Permissions) error {
	table, err := l.Load(ctx)
	if err != nil {
		return err
	}
	previous := permissions.Version()
	if err := permissions.Replace(table); err != nil {
		return err
	}
	if previous != table.Version {
		l.logger.InfoContext(ctx, "permission table updated",
			slog.String("source", l.source),
			slog.String("previous_version", previous),
			slog.String("version", table.Version),
		)
		if l.onSwap != nil {
			l.onSwap(table)
		}
	}
	return nil
}

// Run refreshes every interval until ctx is done. Failures are logged and
// the previous table is kept.
func (l *Loader) Run(ctx context.Context, permissions *auth.Permissions, interval time.Duration) {
	if interval <= 0 || l.source == SourceBuiltin {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx, permissions); err != nil {
				l.logger.WarnContext(ctx, "refresh permission table", slog.Any("error", err))
			}
		}
	}
}

// Publish validates table and uploads it under key, plus a copy named
// after its version next to it for rollback.
func Publish(ctx context.Context, objects storage.ObjectStorage, key string, table auth.PermissionTable) error {
	if err := table.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("encode permission table: %w", err)
	}

	archive := path.Join(path.Dir(key), "versions", table.Version+".json")
	if err := storage.PutBytes(ctx, objects, archive, data, "application/json"); err != nil {
		return err
	}
	return storage.PutBytes(ctx, objects, key, data, "application/json")
}
