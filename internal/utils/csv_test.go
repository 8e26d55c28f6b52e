package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradePilot/internal/domain"
)

func TestWriteKlinesCSV(t *testing.T) {
	open := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	klines := []*domain.Kline{
		{OpenTime: open, CloseTime: open.Add(time.Minute - time.Millisecond), Symbol: "ETHUSDT", Interval: "1m",
			Open: 3400.5, High: 3410, Low: 3399.25, Close: 3405, Volume: 12.75},
		nil,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteKlinesCSV(&buf, klines))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "header plus one row, nil klines skipped")
	assert.Equal(t, "open_time,close_time,symbol,interval,open,high,low,close,volume", lines[0])
	assert.Equal(t, "2024-03-01T12:00:00Z,2024-03-01T12:00:59Z,ETHUSDT,1m,3400.5,3410,3399.25,3405,12.75", lines[1])
}

func TestWriteKlinesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "klines.csv")
	require.NoError(t, WriteKlinesToFile(nil, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "open_time,close_time,symbol,interval,open,high,low,close,volume\n", string(data))
}
