package strategies

import (
	"strings"

	"channel-backtest/services/engine"
)

// Kind names a supported strategy. The set is closed: adding a strategy
// means adding a case here and in Build.
type Kind string

const (
	KindDonchian Kind = "donchian"
)

func Kinds() []Kind { return []Kind{KindDonchian} }

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDonchian:
		return KindDonchian, nil
	}
	return "", engine.Invalid("strategy", "unknown strategy %q", s)
}

// Config selects a strategy and carries the parameters of every kind.
type Config struct {
	Kind     Kind           `json:"strategy" yaml:"strategy"`
	Donchian DonchianParams `json:"donchian" yaml:"donchian"`
}

func DefaultConfig() Config {
	return Config{Kind: KindDonchian, Donchian: DefaultDonchianParams()}
}

// Params returns the parameter block of the selected kind.
func (c Config) Params() any {
	switch c.Kind {
	case KindDonchian:
		return c.Donchian
	}
	return nil
}

// Build resolves the strategy. All configuration errors surface here,
// before any data is touched.
func (c Config) Build() (engine.Strategy, error) {
	kind, err := ParseKind(string(c.Kind))
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindDonchian:
		return NewDonchian(c.Donchian)
	}
	return nil, engine.Invalid("strategy", "unknown strategy %q", c.Kind)
}
