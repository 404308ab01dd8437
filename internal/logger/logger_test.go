package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/netsync/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.LoggingConfig
		wantErr bool
		check   func(t *testing.T, logger *logrus.Logger)
	}{
		{
			name:   "json format stdout",
			config: &config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.InfoLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
			},
		},
		{
			name:   "text format stderr",
			config: &config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.DebugLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok)
			},
		},
		{
			name: "file output",
			config: &config.LoggingConfig{
				Level:      "warn",
				Format:     "json",
				Output:     filepath.Join(t.TempDir(), "logs", "netsync.log"),
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     7,
			},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.WarnLevel, logger.Level)
			},
		},
		{
			name:    "invalid log level",
			config:  &config.LoggingConfig{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			if tt.check != nil {
				tt.check(t, logger)
			}
		})
	}
}

func TestNew_DefaultFields(t *testing.T) {
	logger, err := New(&config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithField("component", "transport").Info("listening")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "netsync", entry["service"])
	assert.Equal(t, "transport", entry["component"])
	assert.Equal(t, "listening", entry["message"])
	assert.Contains(t, entry, "version")
	assert.Contains(t, entry, "timestamp")
}

func TestFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	logger, err := New(&config.LoggingConfig{
		Level:      "info",
		Format:     "text",
		Output:     logFile,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)

	logger.Info("Test log message")

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestLogrusAdapter(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.DebugLevel)

	l := NewLogrusAdapter(logrus.NewEntry(base))
	child := l.WithField("a", 1).WithFields(map[string]interface{}{"b": "two"}).WithError(errors.New("boom"))
	child.Warnf("value %d", 42)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "value 42", entry["msg"])
	assert.Equal(t, float64(1), entry["a"])
	assert.Equal(t, "two", entry["b"])
	assert.Equal(t, "boom", entry["error"])

	// Parent is untouched by child fields
	buf.Reset()
	l.Info("plain")
	entry = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "a")
}

func TestHelpers(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	l := WithEndpoint(WithComponent(base, "server"), "10.0.0.1:5000", "client-1")
	l.Info("connected")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "server", entry["component"])
	assert.Equal(t, "10.0.0.1:5000", entry["endpoint"])
	assert.Equal(t, "client-1", entry["client_id"])

	buf.Reset()
	WithEndpoint(WithComponent(base, "client"), "10.0.0.1:5000", "").Info("dialing")
	entry = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "client_id")
}

func TestNullLogger(t *testing.T) {
	l := NewNullLogger()
	assert.NotPanics(t, func() {
		l.WithField("k", "v").WithError(errors.New("x")).Error("ignored")
		l.Fatal("does not exit")
	})
	assert.IsType(t, &NullLogger{}, OrNull(nil))
	assert.Same(t, l, OrNull(l))
}
