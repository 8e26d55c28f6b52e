package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"DEBUG", logrus.DebugLevel},
		{"warning", logrus.WarnLevel},
		{" warn ", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"info", logrus.InfoLevel},
		{"", logrus.InfoLevel},
		{"verbose", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn"}, &buf)
	ctx := context.Background()

	l.Debug(ctx, "debug line")
	l.Info(ctx, "info line")
	l.Warn(ctx, "warn line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	l.Error(context.Background(), errors.New("boom"), "PlaceOrder: failed", map[string]interface{}{"tradeID": 7, "pair": "ETHUSDT"})

	var rec map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec))
	assert.Equal(t, "error", rec["level"])
	assert.Equal(t, "PlaceOrder: failed", rec["msg"])
	assert.Equal(t, "boom", rec["error"])
	assert.Equal(t, "ETHUSDT", rec["pair"])
	assert.EqualValues(t, 7, rec["tradeID"])
}

func TestLogger_NilFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{}, &buf)
	l.Info(context.Background(), "no fields", nil)
	assert.Contains(t, buf.String(), "no fields")
}
