package domain

// Role is a capability required by settlement entry points.
type Role string

const (
	// RoleRelayer may trigger state-mutating settlement operations.
	RoleRelayer Role = "RELAYER"
	// RoleGuardian may accept or cancel pending proposals.
	RoleGuardian Role = "GUARDIAN"
	// RoleAdmin may grant capabilities to other actors.
	RoleAdmin Role = "ADMIN"
)

// AuthContext carries the caller identity and its granted capabilities.
// It is passed explicitly into every gated operation; there is no ambient
// access-control state.
type AuthContext struct {
	Actor string
	roles map[Role]bool
}

// NewAuthContext creates an auth context for actor with the given roles.
func NewAuthContext(actor string, roles ...Role) AuthContext {
	m := make(map[Role]bool, len(roles))
	for _, r := range roles {
		m[r] = true
	}
	return AuthContext{Actor: actor, roles: m}
}

// Has reports whether the context carries role.
func (a AuthContext) Has(role Role) bool {
	return a.roles[role]
}

// Require returns ErrUnauthorized unless the context carries role.
// Called before any state is read or mutated.
func (a AuthContext) Require(role Role) error {
	if !a.Has(role) {
		return ErrUnauthorized
	}
	return nil
}
