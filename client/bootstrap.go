package client

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/client/routeguard"
	"github.com/upb/rentiful/backend/client/session"
	"github.com/upb/rentiful/backend/identity"
)

var (
	// ErrNoProviderSession is returned by a ProviderSession with nobody signed in
	ErrNoProviderSession = errors.New("no provider session")

	// ErrSuperseded is returned by Navigate when a newer navigation started
	// before this one resolved. Nothing was committed.
	ErrSuperseded = errors.New("navigation superseded")
)

// ProviderSession yields the identity provider's current tokens. The ID
// token is the bearer credential; the access token only unlocks user info.
type ProviderSession interface {
	IDToken(ctx context.Context) (string, error)
	AccessToken(ctx context.Context) (string, error)
}

// IdentityChecker resolves a credential to a profile. *APIClient implements it.
type IdentityChecker interface {
	Me(ctx context.Context, credential, accessToken string) (*Me, error)
}

// Navigator performs client navigation
type Navigator interface {
	Push(target string)
}

type evaluation struct {
	state routeguard.State
	path  string
}

// Bootstrapper runs the route guard once per navigation. With a stored
// session the decision is immediate; otherwise the state is Loading while
// the provider session is checked against the API.
type Bootstrapper struct {
	store    session.Store
	provider ProviderSession
	checker  IdentityChecker
	nav      Navigator
	logger   *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  routeguard.State
	last   *evaluation
}

// NewBootstrapper creates a bootstrapper. provider may be nil when only
// local accounts are used.
func NewBootstrapper(store session.Store, provider ProviderSession, checker IdentityChecker, nav Navigator, logger *zap.Logger) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrapper{
		store:    store,
		provider: provider,
		checker:  checker,
		nav:      nav,
		logger:   logger,
		state:    routeguard.State{Status: routeguard.Loading},
	}
}

// NewSession wires an APIClient and a Bootstrapper together so that a 401
// from the API logs the user out
func NewSession(baseURL string, store session.Store, provider ProviderSession, nav Navigator, logger *zap.Logger, opts ...Option) (*APIClient, *Bootstrapper) {
	api := NewAPIClient(baseURL, store, logger, opts...)
	b := NewBootstrapper(store, provider, api, nav, logger)
	api.onUnauthorized = b.Unauthorized
	return api, b
}

// State returns the current session state
func (b *Bootstrapper) State() routeguard.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Navigate evaluates path and commits the decision, pushing at most once
// for an unchanged (state, path) pair. It blocks while the identity check
// runs. A later Navigate or Logout cancels this one, which then returns
// ErrSuperseded without committing.
func (b *Bootstrapper) Navigate(ctx context.Context, path string) (routeguard.Decision, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.gen++
	gen := b.gen
	b.cancel = cancel
	b.mu.Unlock()

	if sess, err := b.store.Load(); err == nil {
		return b.commit(gen, authenticated(sess), path)
	} else if !errors.Is(err, session.ErrNoSession) {
		b.logger.Warn("stored session unreadable", zap.Error(err))
	}

	b.mu.Lock()
	if gen == b.gen {
		b.state = routeguard.State{Status: routeguard.Loading}
	}
	b.mu.Unlock()

	state := b.check(ctx)
	if err := ctx.Err(); err != nil {
		b.mu.Lock()
		superseded := gen != b.gen
		b.mu.Unlock()
		if superseded {
			return routeguard.Decision{}, ErrSuperseded
		}
		return routeguard.Decision{}, err
	}
	return b.commit(gen, state, path)
}

// Unauthorized handles a 401 from any protected call: the session is
// dropped and the user is sent to the login page.
func (b *Bootstrapper) Unauthorized() {
	b.Logout()
}

// Logout clears the stored session and navigates to the login page
func (b *Bootstrapper) Logout() {
	if err := b.store.Clear(); err != nil {
		b.logger.Warn("failed to clear session", zap.Error(err))
	}

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.gen++
	b.state = routeguard.State{Status: routeguard.Anonymous}
	b.last = &evaluation{state: b.state, path: routeguard.LoginPath}
	b.mu.Unlock()

	b.nav.Push(routeguard.LoginPath)
}

// check resolves the provider session to an authenticated state and stores
// it. Any failure leaves the user anonymous with no stored session.
func (b *Bootstrapper) check(ctx context.Context) routeguard.State {
	anonymous := routeguard.State{Status: routeguard.Anonymous}
	if b.provider == nil {
		return anonymous
	}

	token, err := b.provider.IDToken(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoProviderSession) && ctx.Err() == nil {
			b.logger.Warn("provider session lookup failed", zap.Error(err))
		}
		return anonymous
	}

	accessToken, err := b.provider.AccessToken(ctx)
	if err != nil {
		b.logger.Debug("provider access token unavailable", zap.Error(err))
		accessToken = ""
	}

	me, err := b.checker.Me(ctx, token, accessToken)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("identity check failed", zap.Error(err))
			if clearErr := b.store.Clear(); clearErr != nil {
				b.logger.Warn("failed to clear session", zap.Error(clearErr))
			}
		}
		return anonymous
	}
	if ctx.Err() != nil {
		return anonymous
	}

	sess := session.Session{Token: token, User: me.User}
	if err := b.store.Save(sess); err != nil {
		b.logger.Warn("failed to store session", zap.Error(err))
	}
	return authenticated(&sess)
}

func (b *Bootstrapper) commit(gen uint64, state routeguard.State, path string) (routeguard.Decision, error) {
	decision := routeguard.Decide(state, path)

	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return routeguard.Decision{}, ErrSuperseded
	}
	b.state = state
	current := evaluation{state: state, path: path}
	push := decision.Action == routeguard.Redirect && (b.last == nil || *b.last != current)
	b.last = &current
	b.mu.Unlock()

	if push {
		b.logger.Debug("redirect",
			zap.String("from", path),
			zap.String("to", decision.Target),
			zap.String("status", state.Status.String()))
		b.nav.Push(decision.Target)
	}
	return decision, nil
}

// authenticated maps a stored session to its state, normalizing the role
func authenticated(sess *session.Session) routeguard.State {
	role, _ := identity.ParseRole(string(sess.User.Role))
	return routeguard.State{Status: routeguard.Authenticated, Role: role}
}
