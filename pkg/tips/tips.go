// Package tips defines the optional LLM-backed tips adjunct. The
// worker's core result always carries the static recommendation
// catalogue from pkg/snp; this package is a seam for augmenting those
// recommendations with a generated adjunct, without making the core
// pipeline depend on any external collaborator.
package tips

import "context"

// Generator produces supplemental advice for a classified relationship.
// Implementations may call out to an external service; the zero-value
// contract is that Generate never blocks indefinitely and returns a
// possibly-empty slice rather than an error when it has nothing to add.
type Generator interface {
	Generate(ctx context.Context, relationship string, ibsScore float64) ([]string, error)
}

// NullGenerator is the shipped no-op Generator. It is wired by default;
// spec.md's distillation explicitly scopes LLM tips generation out of
// the core, so the worker must function correctly with this alone.
type NullGenerator struct{}

// Generate always returns no tips and no error.
func (NullGenerator) Generate(ctx context.Context, relationship string, ibsScore float64) ([]string, error) {
	return nil, nil
}

var _ Generator = NullGenerator{}
