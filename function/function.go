// Package function implements the Function Dispatcher (C4): it resolves a
// function name to its declared variants, validates caller input against
// the function's per-role JSON schemas, and samples one variant using a
// deterministic weighted scheme so retries of the same episode land on the
// same variant. The dynamic tool overlay is merged by the orchestrator
// (variant.MergeToolConfig), not by this package.
package function

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tensorzero/tensorzero-sub009/variant"
)

type (
	// VariantConfig pairs a variant.Strategy with its sampling weight.
	// Variants with Weight <= 0 are never sampled, but remain callable by
	// pinned-variant requests.
	VariantConfig struct {
		Strategy variant.Strategy
		Weight   float64

		// Timeout bounds a non-streaming Infer call against this variant;
		// zero means no bound. TTFTTimeout bounds only the wait for the
		// first stream chunk of an InferStream call; the remainder of the
		// stream is unbounded once it starts flowing.
		Timeout     time.Duration
		TTFTTimeout time.Duration
	}

	// Function is a named, schema-validated, multi-variant inference
	// target: the arena-index pattern of keeping every variant.Strategy
	// implementation keyed by name, so a Function is just a map plus the
	// schemas/tool config every variant under it shares.
	Function struct {
		Name string
		Type variant.FunctionType

		Variants map[string]*VariantConfig

		// SystemSchema/UserSchema/AssistantSchema validate Text.Arguments
		// blocks for messages of the corresponding role, when configured.
		// Nil means "no schema for this role" (unvalidated).
		SystemSchema    *jsonschema.Schema
		UserSchema      *jsonschema.Schema
		AssistantSchema *jsonschema.Schema

		// StaticTools is the function-declared tool configuration, merged
		// with any caller-supplied DynamicToolOverlay before dispatch.
		StaticTools variant.ToolConfig
	}

	// Dispatcher resolves function names to Functions and drives variant
	// sampling/failover.
	Dispatcher struct {
		Functions map[string]*Function
	}
)

// ErrAllVariantsExhausted is returned when every candidate variant for a
// function has failed.
type ErrAllVariantsExhausted struct {
	FunctionName string
	Errs         []error
}

func (e *ErrAllVariantsExhausted) Error() string {
	return fmt.Sprintf("function %q: all %d candidate variants exhausted", e.FunctionName, len(e.Errs))
}

// ErrFunctionNotFound is returned when Dispatch references an unknown
// function name.
type ErrFunctionNotFound string

func (e ErrFunctionNotFound) Error() string { return fmt.Sprintf("function %q is not configured", string(e)) }

// ErrVariantNotFound is returned when a pinned variant name does not exist
// on the function.
type ErrVariantNotFound struct {
	FunctionName string
	VariantName  string
}

func (e *ErrVariantNotFound) Error() string {
	return fmt.Sprintf("function %q has no variant %q", e.FunctionName, e.VariantName)
}

// Lookup returns the named function, or ErrFunctionNotFound.
func (d *Dispatcher) Lookup(name string) (*Function, error) {
	fn, ok := d.Functions[name]
	if !ok {
		return nil, ErrFunctionNotFound(name)
	}
	return fn, nil
}

// candidateSet returns the ordered, weight>0 variant names to sample from,
// or the singleton [pinned] when the caller pinned a variant. Order is by
// name, so candidateSet (and therefore the weighted sampling built on top
// of it) is deterministic independent of map iteration order.
func (fn *Function) candidateSet(pinned string) ([]string, error) {
	if pinned != "" {
		if _, ok := fn.Variants[pinned]; !ok {
			return nil, &ErrVariantNotFound{FunctionName: fn.Name, VariantName: pinned}
		}
		return []string{pinned}, nil
	}
	names := make([]string, 0, len(fn.Variants))
	for name, vc := range fn.Variants {
		if vc.Weight > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// sampleSeed derives a deterministic [0, 1) value from
// sha256(functionName || "\x00" || episodeID), per spec: seeded uniform
// sampling so the same (function, episode) pair always resamples the same
// way.
func sampleSeed(functionName, episodeID string) float64 {
	h := sha256.New()
	h.Write([]byte(functionName))
	h.Write([]byte{0})
	h.Write([]byte(episodeID))
	sum := h.Sum(nil)
	n := binary.BigEndian.Uint64(sum[:8])
	return float64(n>>11) / (1 << 53)
}

// weightedPick selects one name from candidates using cumulative
// normalized weights and the deterministic seed value. Removing an
// exhausted candidate and calling weightedPick again with the same seed
// naturally redistributes its share of the seed's range across the
// remaining candidates, still deterministically.
func weightedPick(fn *Function, candidates []string, seed float64) string {
	total := 0.0
	for _, name := range candidates {
		total += fn.Variants[name].Weight
	}
	if total <= 0 {
		// Unweighted (e.g. pinned variant, or all remaining weights
		// dropped out of the set): picking the first candidate in sorted
		// order is still deterministic.
		return candidates[0]
	}
	target := seed * total
	running := 0.0
	for _, name := range candidates {
		running += fn.Variants[name].Weight
		if target < running {
			return name
		}
	}
	return candidates[len(candidates)-1]
}

// Dispatch samples one variant and runs infer against it; on variant
// failure it removes that variant from the candidate set and resamples,
// returning ErrAllVariantsExhausted only once every candidate has failed.
// infer is called with the sampled variant's Strategy.
func (d *Dispatcher) Dispatch(ctx context.Context, functionName, episodeID, pinnedVariant string, infer func(variant.Strategy, string) error) error {
	fn, err := d.Lookup(functionName)
	if err != nil {
		return err
	}
	candidates, err := fn.candidateSet(pinnedVariant)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return &ErrAllVariantsExhausted{FunctionName: functionName}
	}

	seed := sampleSeed(functionName, episodeID)
	var errs []error
	remaining := candidates
	for len(remaining) > 0 {
		name := weightedPick(fn, remaining, seed)
		err := infer(fn.Variants[name].Strategy, name)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("variant %q: %w", name, err))
		remaining = removeName(remaining, name)
	}
	return &ErrAllVariantsExhausted{FunctionName: functionName, Errs: errs}
}

func removeName(names []string, target string) []string {
	out := make([]string, 0, len(names)-1)
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}
