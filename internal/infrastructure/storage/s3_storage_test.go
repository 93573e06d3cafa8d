package storage

import (
	"context"
	"testing"

	"github.com/erp/billing/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewS3ObjectStorage_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(&config.StorageConfig{AccessKey: "k", SecretKey: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("missing access key returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(&config.StorageConfig{Bucket: "b", SecretKey: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access key is required")
	})

	t.Run("missing secret key returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(&config.StorageConfig{Bucket: "b", AccessKey: "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret key is required")
	})

	t.Run("valid config creates storage", func(t *testing.T) {
		storage, err := NewS3ObjectStorage(&config.StorageConfig{
			Bucket:       "billing-reports",
			AccessKey:    "k",
			SecretKey:    "s",
			Endpoint:     "http://localhost:9000",
			UsePathStyle: true,
			Prefix:       "/reconciliation/",
		}, WithLogger(zaptest.NewLogger(t)))
		require.NoError(t, err)
		assert.Equal(t, "billing-reports", storage.Bucket())
		assert.Equal(t, "reconciliation/2026-03-01.json", storage.objectKey("2026-03-01.json"))
	})
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		useSSL   bool
		want     string
	}{
		{"default endpoint", "", false, "http://localhost:9000"},
		{"adds http prefix", "minio:9000", false, "http://minio:9000"},
		{"adds https prefix", "s3.example.com", true, "https://s3.example.com"},
		{"keeps scheme", "https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeEndpoint(tt.endpoint, tt.useSSL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestS3ObjectStorage_EmptyKey(t *testing.T) {
	storage, err := NewS3ObjectStorage(&config.StorageConfig{Bucket: "b", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)

	err = storage.Upload(context.Background(), "", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage key is required")

	_, err = storage.Download(context.Background(), "")
	require.Error(t, err)
}

func TestMemoryObjectStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryObjectStorage()

	data := []byte(`{"drift":[]}`)
	require.NoError(t, s.Upload(ctx, "b.json", data, "application/json"))
	require.NoError(t, s.Upload(ctx, "a.json", []byte("{}"), "application/json"))
	data[0] = 'X'

	got, err := s.Download(ctx, "b.json")
	require.NoError(t, err)
	assert.Equal(t, `{"drift":[]}`, string(got), "stored bytes are copied")
	assert.Equal(t, []string{"a.json", "b.json"}, s.Keys())

	_, err = s.Download(ctx, "missing.json")
	require.ErrorIs(t, err, ErrObjectNotFound)
}
