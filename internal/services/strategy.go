package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/BradenHooton/stepgate/internal/models"
)

// Strategy type tags
const (
	StrategyDirect = "direct"
	StrategyEmail  = "email"
	StrategyTOTP   = "totp"
)

// Strategy is a second-factor verification method. Implementations hold no
// per-request state; pending codes live in the shared store.
type Strategy interface {
	Type() string
	Name() string
	// Obtain issues a second factor challenge for user
	Obtain(ctx context.Context, user *models.User) (*models.ObtainResult, error)
	// Reset invalidates any pending challenge for user
	Reset(ctx context.Context, user *models.User) error
	// IsValid checks a submitted code
	IsValid(ctx context.Context, user *models.User, code string) (bool, error)
}

// StrategyRegistry maps type tags to strategies. It is built once at
// startup and read-only afterwards.
type StrategyRegistry struct {
	strategies map[string]Strategy
}

// NewStrategyRegistry registers strategies by their type tag
func NewStrategyRegistry(strategies ...Strategy) (*StrategyRegistry, error) {
	r := &StrategyRegistry{strategies: make(map[string]Strategy, len(strategies))}

	for _, s := range strategies {
		if _, exists := r.strategies[s.Type()]; exists {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicateStrategy, s.Type())
		}
		r.strategies[s.Type()] = s
	}

	return r, nil
}

// Get returns the strategy registered under tag
func (r *StrategyRegistry) Get(tag string) (Strategy, error) {
	s, ok := r.strategies[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownStrategy, tag)
	}
	return s, nil
}

// Has reports whether tag is registered
func (r *StrategyRegistry) Has(tag string) bool {
	_, ok := r.strategies[tag]
	return ok
}

// Types returns the registered tags in sorted order
func (r *StrategyRegistry) Types() []string {
	tags := make([]string, 0, len(r.strategies))
	for tag := range r.strategies {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
