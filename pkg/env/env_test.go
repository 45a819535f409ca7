package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	for in, want := range map[string]int64{
		"1024":   1024,
		"512K":   512 << 10,
		"8M":     8 << 20,
		"8mb":    8 << 20,
		"8MiB":   8 << 20,
		"2g":     2 << 30,
		"1.5GiB": 3 << 29,
		"2 TiB":  2 << 40,
		"100 kB": 100 << 10,
	} {
		got, err := ParseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "lots", "8X"} {
		_, err := ParseBytes(in)
		assert.Error(t, err, in)
	}
}

func TestGetEnvBytesOrDefault(t *testing.T) {
	t.Setenv("CAMPAIGN_TEST_SIZE", "16MiB")
	assert.Equal(t, int64(16<<20), GetEnvBytesOrDefault("CAMPAIGN_TEST_SIZE", 1))

	t.Setenv("CAMPAIGN_TEST_SIZE", "huge")
	assert.Equal(t, int64(1), GetEnvBytesOrDefault("CAMPAIGN_TEST_SIZE", 1))
}

func TestGetEnvDurationOrDefault(t *testing.T) {
	t.Setenv("CAMPAIGN_TEST_TTL", "90")
	assert.Equal(t, 90*time.Second, GetEnvDurationOrDefault("CAMPAIGN_TEST_TTL", time.Minute))

	t.Setenv("CAMPAIGN_TEST_TTL", "2m")
	assert.Equal(t, 2*time.Minute, GetEnvDurationOrDefault("CAMPAIGN_TEST_TTL", time.Minute))

	t.Setenv("CAMPAIGN_TEST_TTL", "soon")
	assert.Equal(t, time.Minute, GetEnvDurationOrDefault("CAMPAIGN_TEST_TTL", time.Minute))
}
