package marketdata

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-backtest/services/arrowpipeline"
	"channel-backtest/services/engine"
)

const sample = `Timestamp,OPEN,High,low,Close,Volume,extra
2024-01-02 10:00:00,10,11,9,10.5,100,x
2024-01-02 09:00:00,9,10,8,9.5,50,x
not-a-date,1,1,1,1,1,x
2024-01-02 11:00:00,10.5,12,10,11,0,x
2024-01-02 10:00:00,99,99,99,99,99,dup
2024-01-02 12:00:00,0,1,1,1,1,bad
`

func TestReadCSV(t *testing.T) {
	bars, st, err := ReadCSV(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), bars[0].Timestamp)
	assert.Equal(t, 10.5, bars[1].Close, "first occurrence of a duplicate wins")
	assert.Equal(t, 6, st.Rows)
	assert.Equal(t, 1, st.BadTimestamps)
	assert.Equal(t, 1, st.BadPrices)
	assert.Equal(t, 1, st.Duplicates)
	assert.NoError(t, engine.CheckSeries(bars))
}

func TestReadCSVMissingColumns(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("timestamp,open,close\n1,2,3\n"))
	require.ErrorIs(t, err, ErrMissingColumns)
	var mc *MissingColumnsError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, []string{"high", "low", "volume"}, mc.Columns)
}

func TestReadCSVNoValidRows(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("timestamp,open,high,low,close,volume\nx,1,1,1,1,1\n"))
	assert.ErrorIs(t, err, ErrNoBars)
}

func TestReadCSVUTF16(t *testing.T) {
	text := "timestamp,open,high,low,close,volume\n1704067200000,1,2,0.5,1.5,10\n"
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFE})
	for _, u := range utf16.Encode([]rune(text)) {
		_ = binary.Write(&buf, binary.LittleEndian, u)
	}
	bars, _, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bars[0].Timestamp)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"1704067200", "1704067200000", "1704067200000000", "2024-01-01T00:00:00Z", "2024-01-01 00:00:00", "2024-01-01", "2024-01-01T03:00:00+03:00"} {
		got, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s -> %s", s, got)
	}
	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []engine.Bar
	for i := 0; i < 6; i++ {
		p := float64(10 + i)
		bars = append(bars, engine.Bar{Timestamp: start.Add(time.Duration(i) * 5 * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 1})
	}
	out := Resample(bars, 15*time.Minute)
	require.Len(t, out, 2)
	assert.Equal(t, engine.Bar{Timestamp: start, Open: 10, High: 13, Low: 9, Close: 12.5, Volume: 3}, out[0])
	assert.Equal(t, start.Add(15*time.Minute), out[1].Timestamp)
}

func TestParseCadence(t *testing.T) {
	for s, want := range map[string]time.Duration{"15m": 15 * time.Minute, "15min": 15 * time.Minute, "60": time.Hour, "1h": time.Hour, "1d": 24 * time.Hour} {
		got, err := ParseCadence(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
	_, err := ParseCadence("-5m")
	assert.Error(t, err)
}

func TestLoadFileFormats(t *testing.T) {
	dir := t.TempDir()
	bars := engine.BreakoutReversalBars()

	require.NoError(t, WriteParquet(filepath.Join(dir, "B.parquet"), bars))
	p := arrowpipeline.NewPipeline(arrowpipeline.DefaultConfig(), nil)
	require.NoError(t, arrowpipeline.WriteFile(filepath.Join(dir, "C.arrow"), func(w io.Writer) error {
		return p.WriteBars(w, "C", bars)
	}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.csv"), []byte(sample), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("skip"), 0o644))

	files, err := ListInputs(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "A", SymbolFromPath(files[0]))

	for _, f := range files[1:] {
		got, _, err := LoadFile(f)
		require.NoError(t, err, f)
		require.Len(t, got, len(bars), f)
		assert.True(t, bars[20].Timestamp.Equal(got[20].Timestamp))
		assert.Equal(t, bars[20].Close, got[20].Close)
	}
}

func TestSaveFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	bars := engine.BreakoutReversalBars()
	for _, name := range []string{"X.csv", "X.parquet", "X.arrow"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveFile(path, "X", bars), name)
		got, st, err := LoadFile(path)
		require.NoError(t, err, name)
		assert.Zero(t, st.Dropped(), name)
		require.Len(t, got, len(bars), name)
		assert.True(t, bars[35].Timestamp.Equal(got[35].Timestamp), name)
		assert.Equal(t, bars[35].Low, got[35].Low, name)
	}
	assert.Error(t, SaveFile(filepath.Join(dir, "X.xlsx"), "X", bars))
}
