package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:      "debug",
		Outputs:    []string{"file"},
		OutputFile: filepath.Join(dir, "logs", "bot.log"),
		ErrorFile:  filepath.Join(dir, "logs", "error.log"),
		Format:     "json",
	}
	l, err := New(cfg)
	require.NoError(t, err)

	l.LogAction("BUY", map[string]interface{}{"price": int64(925000000)})
	l.LogTick(7, nil)
	l.LogError(errors.New("submit failed"), nil)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"BUY"`)
	assert.Contains(t, string(data), `"tick":7`)

	errData, err := os.ReadFile(cfg.ErrorFile)
	require.NoError(t, err)
	assert.Contains(t, string(errData), "submit failed")
	assert.NotContains(t, string(errData), "action_event")
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	l.LogRisk("stop_loss", nil)
	l.WithFields(map[string]interface{}{"pair": "btc_idr"}).Info("hello")
	assert.NoError(t, l.Close())
}
