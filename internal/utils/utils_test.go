// internal/utils/utils_test.go
package utils

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRoundTrip(t *testing.T) {
	enc, err := EncryptSecret("sk-123456", "server-secret")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(enc))
	assert.NotContains(t, enc, "sk-123456")

	plain, err := DecryptSecret(enc, "server-secret")
	require.NoError(t, err)
	assert.Equal(t, "sk-123456", plain)

	_, err = DecryptSecret(enc, "other-secret")
	assert.Error(t, err)
}

func TestSecretPassthrough(t *testing.T) {
	plain, err := DecryptSecret("sk-plain", "s")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", plain)

	again, err := EncryptSecret("enc:already", "s")
	require.NoError(t, err)
	assert.Equal(t, "enc:already", again)

	assert.Equal(t, "********3456", MaskSecret("sk-123456"))
	assert.Equal(t, "**", MaskSecret("ab"))
}

func TestMetricsConcurrentCounters(t *testing.T) {
	m := NewMetricsCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.RecordHistogram("latency", 5)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, m.GetCounterValue("hits"))
	snap := m.GetMetrics()
	hist := snap["histograms"].(map[string]map[string]int64)["latency"]
	assert.EqualValues(t, 50, hist["count"])
	assert.EqualValues(t, 5, hist["min"])
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := GetLogger()
	logger.SetOutput(&buf)
	require.NoError(t, logger.SetLogLevel("debug"))
	defer func() {
		_ = logger.SetLogLevel("info")
		logger.SetOutput(os.Stdout)
	}()

	logger.Info("shot saved", map[string]interface{}{"shot_id": 7})
	assert.Contains(t, buf.String(), "shot saved")
	assert.Contains(t, buf.String(), "shot_id=7")
	assert.Error(t, logger.SetLogLevel("loud"))
}
