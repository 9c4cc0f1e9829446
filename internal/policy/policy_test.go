package policy

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/osda-portal/apiserver/config"
	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/storage"
	"github.com/osda-portal/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinSource(t *testing.T) {
	loader, err := NewLoader(config.PermissionsConfig{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceBuiltin, loader.Source())

	table, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultPermissionTable().Version, table.Version)
}

func TestFileSource(t *testing.T) {
	table := auth.DefaultPermissionTable()
	table.Version = "file-v2"
	dir := t.TempDir()
	file := filepath.Join(dir, "permissions.json")

	objects := storage.NewMemoryStorage("tmp")
	require.NoError(t, Publish(context.Background(), objects, "current.json", table))
	data, err := storage.ReadBytes(context.Background(), objects, "current.json")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, data, 0o600))

	loader, err := NewLoader(config.PermissionsConfig{Source: "file", File: file}, nil, nil)
	require.NoError(t, err)
	loaded, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file-v2", loaded.Version)
}

func TestStorageSourceRefresh(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStorage("osda-config")
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	loader, err := NewLoader(config.PermissionsConfig{Source: "storage", ObjectKey: "permissions/current.json"}, objects, logger)
	require.NoError(t, err)

	permissions, err := auth.NewPermissions(auth.DefaultPermissionTable())
	require.NoError(t, err)
	var swapped []string
	loader.OnSwap(func(table auth.PermissionTable) { swapped = append(swapped, table.Version) })

	// Nothing published yet: the builtin table stays active.
	assert.ErrorIs(t, loader.Refresh(ctx, permissions), storage.ErrObjectNotFound)
	assert.Equal(t, auth.DefaultPermissionTable().Version, permissions.Version())

	table := auth.DefaultPermissionTable()
	table.Version = "2026-12-01"
	table.Roles[types.RoleEmployer] = append(table.Roles[types.RoleEmployer], "interviews.schedule")
	require.NoError(t, Publish(ctx, objects, "permissions/current.json", table))

	require.NoError(t, loader.Refresh(ctx, permissions))
	assert.Equal(t, "2026-12-01", permissions.Version())
	assert.Contains(t, permissions.For(types.RoleEmployer), "interviews.schedule")
	assert.Contains(t, logs.String(), "permission table updated")
	assert.Equal(t, []string{"2026-12-01"}, swapped)

	require.NoError(t, loader.Refresh(ctx, permissions))
	assert.Len(t, swapped, 1, "same version is not a swap")

	archived, err := storage.ReadBytes(ctx, objects, "permissions/versions/2026-12-01.json")
	require.NoError(t, err)
	assert.Contains(t, string(archived), "interviews.schedule")
}

func TestPublishRejectsInvalidTable(t *testing.T) {
	objects := storage.NewMemoryStorage("osda-config")
	err := Publish(context.Background(), objects, "permissions/current.json", auth.PermissionTable{Version: "x"})
	assert.Error(t, err)
	_, err = storage.ReadBytes(context.Background(), objects, "permissions/current.json")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestNewLoaderValidates(t *testing.T) {
	_, err := NewLoader(config.PermissionsConfig{Source: "file"}, nil, nil)
	assert.Error(t, err)
	_, err = NewLoader(config.PermissionsConfig{Source: "storage", ObjectKey: "k"}, nil, nil)
	assert.Error(t, err)
	_, err = NewLoader(config.PermissionsConfig{Source: "etcd"}, nil, nil)
	assert.Error(t, err)
}
