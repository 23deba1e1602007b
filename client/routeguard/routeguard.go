// Package routeguard decides, for a session state and a client route,
// whether to render the route, wait for the session to resolve, or redirect.
// Decide is a pure function; committing a redirect is the caller's job.
package routeguard

import (
	"strings"

	"github.com/upb/rentiful/backend/identity"
)

// LoginPath is where anonymous visitors of role-gated routes are sent
const LoginPath = "/login"

// Status is the session status seen by the guard
type Status int

const (
	// Loading means no stored session and the identity check is in flight
	Loading Status = iota
	Authenticated
	Anonymous
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// State is the input to Decide. Role is only meaningful when Authenticated.
type State struct {
	Status Status
	Role   identity.Role
}

// Category classifies routes
type Category int

const (
	Public Category = iota
	AuthOnly
	RoleGated
)

func (c Category) String() string {
	switch c {
	case AuthOnly:
		return "auth_only"
	case RoleGated:
		return "role_gated"
	default:
		return "public"
	}
}

// Action is what the client should do with the current route
type Action int

const (
	Render Action = iota
	Redirect
	Wait
)

func (a Action) String() string {
	switch a {
	case Redirect:
		return "redirect"
	case Wait:
		return "wait"
	default:
		return "render"
	}
}

// Decision is the outcome of Decide. Target is set only for Redirect.
type Decision struct {
	Action Action
	Target string
}

var authOnlyPaths = map[string]struct{}{
	"/login":    {},
	"/signin":   {},
	"/signup":   {},
	"/register": {},
}

var gatedAreas = map[string]identity.Role{
	"/managers": identity.RoleManager,
	"/tenants":  identity.RoleTenant,
}

// Home returns the dashboard a role lands on, or "" for an unknown role
func Home(role identity.Role) string {
	switch role {
	case identity.RoleManager:
		return "/managers/properties"
	case identity.RoleTenant:
		return "/tenants/residences"
	default:
		return ""
	}
}

// Classify returns the category of path. Query strings, fragments and
// trailing slashes are ignored.
func Classify(path string) Category {
	_, category := classify(path)
	return category
}

func classify(path string) (identity.Role, Category) {
	path = normalize(path)
	if _, ok := authOnlyPaths[path]; ok {
		return "", AuthOnly
	}
	for prefix, role := range gatedAreas {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return role, RoleGated
		}
	}
	return "", Public
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.ToLower(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// Decide maps (state, path) to a Decision. Every redirect target decides to
// Render for the same state, so following a redirect never loops.
func Decide(state State, path string) Decision {
	areaRole, category := classify(path)

	switch category {
	case AuthOnly:
		switch state.Status {
		case Loading:
			return Decision{Action: Wait}
		case Authenticated:
			if home := Home(state.Role); home != "" {
				return Decision{Action: Redirect, Target: home}
			}
		}
		return Decision{Action: Render}

	case RoleGated:
		switch state.Status {
		case Loading:
			return Decision{Action: Wait}
		case Anonymous:
			return Decision{Action: Redirect, Target: LoginPath}
		}
		if state.Role == areaRole {
			return Decision{Action: Render}
		}
		if home := Home(state.Role); home != "" {
			return Decision{Action: Redirect, Target: home}
		}
		return Decision{Action: Redirect, Target: LoginPath}
	}

	return Decision{Action: Render}
}
