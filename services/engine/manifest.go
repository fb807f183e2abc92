package engine

// Run manifest with full reproducibility

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const EngineVersion = "1.1.0"

type RunManifest struct {
	RunID         string          `json:"run_id"`
	Symbol        string          `json:"symbol,omitempty"`
	Strategy      string          `json:"strategy"`
	Params        json.RawMessage `json:"params"`
	PositionSize  float64         `json:"position_size"`
	ConfigHash    string          `json:"config_hash"`
	DataChecksum  string          `json:"data_checksum"`
	Bars          int             `json:"bars"`
	FirstBar      *time.Time      `json:"first_bar,omitempty"`
	LastBar       *time.Time      `json:"last_bar,omitempty"`
	EngineVersion string          `json:"engine_version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewManifest snapshots the inputs of one run.
func NewManifest(symbol, strategy string, params any, size float64, bars []Bar) (*RunManifest, error) {
	paramBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	configHash, err := ConfigHash(strategy, params, size)
	if err != nil {
		return nil, err
	}

	m := &RunManifest{
		RunID:         uuid.NewString(),
		Symbol:        symbol,
		Strategy:      strategy,
		Params:        paramBytes,
		PositionSize:  size,
		ConfigHash:    configHash,
		DataChecksum:  DataChecksum(bars),
		Bars:          len(bars),
		EngineVersion: EngineVersion,
		CreatedAt:     time.Now().UTC(),
	}
	if len(bars) > 0 {
		first, last := bars[0].Timestamp.UTC(), bars[len(bars)-1].Timestamp.UTC()
		m.FirstBar, m.LastBar = &first, &last
	}
	return m, nil
}

// CacheKey identifies a run by what determines its output.
func (m *RunManifest) CacheKey() string {
	return "run:" + EngineVersion + ":" + m.ConfigHash + ":" + m.DataChecksum
}

// ConfigHash is the sha256 of the canonical JSON of the strategy settings.
func ConfigHash(strategy string, params any, size float64) (string, error) {
	b, err := json.Marshal(struct {
		Strategy string  `json:"strategy"`
		Params   any     `json:"params"`
		Size     float64 `json:"size"`
	}{strategy, params, size})
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// DataChecksum hashes the exact bits of every bar.
func DataChecksum(bars []Bar) string {
	h := sha256.New()
	var buf [48]byte
	for _, b := range bars {
		binary.LittleEndian.PutUint64(buf[0:], uint64(b.Timestamp.UnixNano()))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(b.Open))
		binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(b.High))
		binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(b.Low))
		binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(b.Close))
		binary.LittleEndian.PutUint64(buf[40:], math.Float64bits(b.Volume))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
