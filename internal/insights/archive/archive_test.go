package archive

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnapet/smartdrive/pkg/options"
)

func TestObjectKey(t *testing.T) {
	start := time.Date(2026, 1, 10, 23, 30, 0, 250_000_000, time.FixedZone("CET", 3600))
	assert.Equal(t, "cranking/VIN1/2026/01/10/1768084200250.json", ObjectKey("cranking", "VIN1", start))
	assert.Equal(t, "VIN1/2026/01/10/1768084200250.json", ObjectKey("", "VIN1", start))
}

func TestPresignedURL(t *testing.T) {
	opts := options.NewS3Options()
	opts.AccessKeyID = "minio"
	opts.SecretAccessKey = "minio123"

	a, err := NewMinIO(opts)
	require.NoError(t, err)

	start := time.UnixMilli(1768084200250)
	raw, err := a.URL(context.Background(), "VIN1", start, 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/smartdrive-bronze/cranking/VIN1/2026/01/10/1768084200250.json", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
}
