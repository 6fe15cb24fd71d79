package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	l := newLogger()

	formatter, ok := l.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.Equal(t, time.RFC3339Nano, formatter.TimestampFormat)
	assert.True(t, formatter.FullTimestamp)
}

func TestGetLogger(t *testing.T) {
	t.Run("falls back to global entry", func(t *testing.T) {
		entry := G(context.Background())
		assert.Equal(t, L.Logger, entry.Logger)
	})

	t.Run("returns entry from context", func(t *testing.T) {
		custom := logrus.NewEntry(logrus.New()).WithField("run_id", "abc")
		ctx := WithLogger(context.Background(), custom)
		assert.Equal(t, "abc", G(ctx).Data["run_id"])
	})
}

func TestWithFields(t *testing.T) {
	ctx := WithFields(context.Background(), logrus.Fields{"run_id": "r1"})
	ctx = WithFields(ctx, logrus.Fields{"block": 3})

	entry := G(ctx)
	assert.Equal(t, "r1", entry.Data["run_id"])
	assert.Equal(t, 3, entry.Data["block"])
}

func TestConfigure(t *testing.T) {
	original := L.Logger.GetLevel()
	originalFormatter := L.Logger.Formatter
	defer func() {
		L.Logger.SetLevel(original)
		L.Logger.Formatter = originalFormatter
		SetOutput(os.Stderr)
	}()

	require.NoError(t, Configure("debug", "json"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, L.Logger.Formatter)

	var buf bytes.Buffer
	SetOutput(&buf)
	G(context.Background()).WithField("skill", "task").Info("block finished")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "block finished", line["message"])
	assert.Equal(t, "task", line["skill"])
	assert.Equal(t, "info", line["logLevel"])

	err := Configure("loud", "fmt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())
}
