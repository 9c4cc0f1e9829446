package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/osda-portal/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	s := NewMemoryStorage("osda-config")
	ctx := context.Background()

	require.NoError(t, PutBytes(ctx, s, "permissions/current.json", []byte(`{"version":"v1"}`), "application/json"))
	data, err := ReadBytes(ctx, s, "permissions/current.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"v1"}`, string(data))

	_, err = ReadBytes(ctx, s, "permissions/missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestReadBytesRejectsOversizedObjects(t *testing.T) {
	s := NewMemoryStorage("osda-config")
	ctx := context.Background()

	big := strings.Repeat("x", maxObjectSize+1)
	require.NoError(t, PutBytes(ctx, s, "big", []byte(big), "text/plain"))
	_, err := ReadBytes(ctx, s, "big")
	assert.ErrorContains(t, err, "exceeds")
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Bucket())

	_, err = New(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.StorageConfig{Backend: "minio"})
	assert.ErrorContains(t, err, "endpoint is required")

	_, err = New(context.Background(), config.StorageConfig{Backend: "gcs"})
	assert.ErrorContains(t, err, "bucket is required")
}
