// Package bench drives concurrent terminals against a system under test and
// hands every measured transaction to a statistics recorder.
package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

var (
	ErrUnknownTxnType = errors.New("unknown transaction type")
	ErrEmptyRegistry  = errors.New("transaction type registry is empty")
)

// TxnType names a transaction kind of a benchmark.
type TxnType string

func (t TxnType) String() string { return string(t) }

// Registry is the closed set of transaction types known for a run.
type Registry struct {
	types []TxnType
	index map[TxnType]int
}

func NewRegistry(types ...TxnType) (*Registry, error) {
	if len(types) == 0 {
		return nil, ErrEmptyRegistry
	}

	index := make(map[TxnType]int, len(types))
	for i, t := range types {
		if t == "" {
			return nil, fmt.Errorf("transaction type at position %v has no name", i)
		}
		if _, exists := index[t]; exists {
			return nil, fmt.Errorf("duplicate transaction type %v", t)
		}
		index[t] = i
	}
	return &Registry{types: slices.Clone(types), index: index}, nil
}

func MustRegistry(types ...TxnType) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Types() []TxnType { return slices.Clone(r.types) }
func (r *Registry) Len() int         { return len(r.types) }

func (r *Registry) Index(t TxnType) (int, bool) {
	i, ok := r.index[t]
	return i, ok
}

func (r *Registry) Contains(t TxnType) bool {
	_, ok := r.index[t]
	return ok
}

// TxnResult is the measurement of one transaction attempt.
type TxnResult struct {
	Type      TxnType
	Committed bool

	// EndTime is the monotonic completion timestamp in nanoseconds.
	EndTime int64

	ResponseTime time.Duration
}

type Params []any

type Outcome struct {
	Committed bool
	Output    any
}

// SutConnection executes transactions against the system under test. A
// connection is owned by exactly one terminal and is never shared.
type SutConnection interface {
	Execute(ctx context.Context, txType TxnType, params Params) (Outcome, error)
	Close() error
}

type ParamGenerator interface {
	Type() TxnType
	Generate(r *rand.Rand) Params
}

// ParamGeneratorFunc adapts a function to ParamGenerator.
type ParamGeneratorFunc struct {
	TxnType TxnType
	Fn      func(r *rand.Rand) Params
}

func (g ParamGeneratorFunc) Type() TxnType                { return g.TxnType }
func (g ParamGeneratorFunc) Generate(r *rand.Rand) Params { return g.Fn(r) }

// Generators indexes parameter generators by the type they produce.
type Generators map[TxnType]ParamGenerator

func GeneratorsOf(gens ...ParamGenerator) Generators {
	m := make(Generators, len(gens))
	for _, g := range gens {
		m[g.Type()] = g
	}
	return m
}

type Ingester interface {
	Ingest(res TxnResult) error
}

type Recorder interface {
	Ingester
	SetRecordStartTime()
}
