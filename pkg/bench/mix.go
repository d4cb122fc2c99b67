package bench

import (
	"fmt"

	"txbench/pkg/prop"
)

type MixPolicy interface {
	Select(p float64) TxnType
}

type MixEntry struct {
	Type  TxnType
	Ratio float64
}

// Mix picks a transaction type from a uniform draw in [0,1). Each entry owns
// a slice of the unit interval proportional to its ratio, in order. Draws past
// the sum of all ratios select the fallback type.
type Mix struct {
	value prop.RatioValue[TxnType]
}

func NewMix(reg *Registry, fallback TxnType, entries ...MixEntry) (*Mix, error) {
	if !reg.Contains(fallback) {
		return nil, fmt.Errorf("%w: fallback %v", ErrUnknownTxnType, fallback)
	}

	types := make([]TxnType, len(entries))
	ratios := make([]float64, len(entries))
	for i, e := range entries {
		if !reg.Contains(e.Type) {
			return nil, fmt.Errorf("%w: %v", ErrUnknownTxnType, e.Type)
		}
		types[i] = e.Type
		ratios[i] = e.Ratio
	}

	value, err := prop.RatioOf(types, ratios, fallback)
	if err != nil {
		return nil, fmt.Errorf("transaction mix: %w", err)
	}
	return &Mix{value: value}, nil
}

func (m *Mix) Select(p float64) TxnType { return m.value.GetWithProp(p) }
