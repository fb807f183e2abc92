package marketdata

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"channel-backtest/services/engine"
)

var RequiredColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

var (
	ErrMissingColumns = errors.New("missing required columns")
	ErrNoBars         = errors.New("no valid bars")
)

// MissingColumnsError lists the required columns absent from a header.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingColumns, strings.Join(e.Columns, ", "))
}

func (e *MissingColumnsError) Unwrap() error { return ErrMissingColumns }

// LoadStats counts what the loader discarded on the way in.
type LoadStats struct {
	Rows          int
	BadTimestamps int
	BadPrices     int
	Duplicates    int
}

func (s LoadStats) Dropped() int { return s.BadTimestamps + s.BadPrices + s.Duplicates }

// LoadCSV opens path and parses it with ReadCSV.
func LoadCSV(path string) ([]engine.Bar, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, err
	}
	defer f.Close()
	bars, st, err := ReadCSV(f)
	if err != nil {
		return nil, st, fmt.Errorf("%s: %w", path, err)
	}
	return bars, st, nil
}

// ReadCSV parses OHLCV rows with a header naming at least RequiredColumns
// (any case, any order). Rows with an unparseable timestamp or an invalid
// price are dropped; the result is sorted and keeps the first row of any
// duplicated timestamp.
func ReadCSV(r io.Reader) ([]engine.Bar, LoadStats, error) {
	var st LoadStats
	cr := csv.NewReader(decodeBOM(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, st, &MissingColumnsError{Columns: RequiredColumns}
	}
	if err != nil {
		return nil, st, fmt.Errorf("read header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, st, err
	}

	bars := make([]engine.Bar, 0, 1024)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, st, fmt.Errorf("read row %d: %w", st.Rows+1, err)
		}
		st.Rows++
		field := func(name string) string {
			if i := idx[name]; i < len(rec) {
				return strings.TrimSpace(strings.Trim(rec[i], `"`))
			}
			return ""
		}

		ts, err := ParseTimestamp(field("timestamp"))
		if err != nil {
			st.BadTimestamps++
			continue
		}
		b := engine.Bar{Timestamp: ts}
		var perr error
		b.Open, perr = parseFloat(field("open"), perr)
		b.High, perr = parseFloat(field("high"), perr)
		b.Low, perr = parseFloat(field("low"), perr)
		b.Close, perr = parseFloat(field("close"), perr)
		b.Volume, perr = parseFloat(field("volume"), perr)
		if perr != nil || !ValidBar(b) {
			st.BadPrices++
			continue
		}
		bars = append(bars, b)
	}

	bars, st.Duplicates = Normalize(bars)
	if len(bars) == 0 {
		return nil, st, ErrNoBars
	}
	return bars, st, nil
}

// decodeBOM transcodes UTF-16 input to UTF-8 and strips a UTF-8 BOM.
func decodeBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	b, _ := br.Peek(3)
	switch {
	case len(b) >= 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)):
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	case len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF:
		_, _ = br.Discard(3)
	}
	return br
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}
	return idx, nil
}

func parseFloat(s string, prev error) (float64, error) {
	if prev != nil {
		return 0, prev
	}
	return strconv.ParseFloat(s, 64)
}

// ValidBar reports whether b can enter the engine: positive finite prices,
// finite non-negative volume.
func ValidBar(b engine.Bar) bool {
	for _, p := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return false
		}
	}
	return !math.IsNaN(b.Volume) && !math.IsInf(b.Volume, 0) && b.Volume >= 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"02/01/2006 15:04",
}

// ParseTimestamp reads epoch numbers (seconds, milliseconds, microseconds or
// nanoseconds, by magnitude) and common textual layouts. Text without a zone
// is taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func fromEpoch(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11:
		return time.Unix(n, 0).UTC()
	case abs < 1e14:
		return time.UnixMilli(n).UTC()
	case abs < 1e17:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

// WriteCSV writes bars with the RequiredColumns header and RFC 3339 UTC
// timestamps.
func WriteCSV(w io.Writer, bars []engine.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RequiredColumns); err != nil {
		return err
	}
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range bars {
		rec := []string{b.Timestamp.UTC().Format(time.RFC3339Nano), num(b.Open), num(b.High), num(b.Low), num(b.Close), num(b.Volume)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
