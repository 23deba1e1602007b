package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNotApplicable is returned by a Strategy that does not recognize the
// credential as one of its own. The Verifier moves on to the next strategy.
var ErrNotApplicable = errors.New("credential not recognized by strategy")

// Verification outcomes reported to the Observer
const (
	OutcomeAccepted = "accepted"
	OutcomeSkipped  = "skipped"
	OutcomeInvalid  = "invalid"
	OutcomeNoRole   = "no_role"
)

// Strategy verifies credentials from a single issuer
type Strategy interface {
	Name() string
	Verify(ctx context.Context, raw string) (*Identity, error)
}

// Observer receives one call per strategy attempt
type Observer interface {
	ObserveVerification(strategy, outcome string)
}

// Verifier runs an ordered chain of strategies
type Verifier struct {
	strategies []Strategy
	observer   Observer
	logger     *zap.Logger
}

// NewVerifier creates a verifier that tries strategies in order
func NewVerifier(logger *zap.Logger, observer Observer, strategies ...Strategy) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		strategies: strategies,
		observer:   observer,
		logger:     logger,
	}
}

// Verify resolves raw to an Identity. Errors wrap ErrNoCredential,
// ErrInvalidCredential or ErrNoRole.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoCredential
	}

	for _, strategy := range v.strategies {
		id, err := strategy.Verify(ctx, raw)
		switch {
		case err == nil:
			v.observe(strategy.Name(), OutcomeAccepted)
			return id, nil
		case errors.Is(err, ErrNotApplicable):
			v.observe(strategy.Name(), OutcomeSkipped)
			v.logger.Debug("strategy skipped credential",
				zap.String("strategy", strategy.Name()),
				zap.Error(err),
			)
			continue
		case errors.Is(err, ErrNoRole):
			v.observe(strategy.Name(), OutcomeNoRole)
			return nil, err
		case errors.Is(err, ErrInvalidCredential):
			v.observe(strategy.Name(), OutcomeInvalid)
			return nil, err
		default:
			v.observe(strategy.Name(), OutcomeInvalid)
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCredential, strategy.Name(), err)
		}
	}

	return nil, fmt.Errorf("%w: no strategy accepted the credential", ErrInvalidCredential)
}

func (v *Verifier) observe(strategy, outcome string) {
	if v.observer != nil {
		v.observer.ObserveVerification(strategy, outcome)
	}
}
