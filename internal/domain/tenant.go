package domain

// Operator roles allowed to trigger symbolication.
const (
	RoleObservabilityAdmin = "observability_admin"
	RoleSupport            = "support"
)

type Tenant struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Origins []string `json:"origins"`
}

// Actor is an authenticated caller.
type Actor struct {
	UserID          string
	TenantID        string
	Role            string
	AuthorizedUsers []string
}

// CanSymbolicate reports whether the actor's role may run symbolication.
func (a *Actor) CanSymbolicate() bool {
	return a != nil && (a.Role == RoleObservabilityAdmin || a.Role == RoleSupport)
}

// CanAccessUser reports whether the actor may touch events of the given user.
// Support-scoped operators are limited to their authorized users.
func (a *Actor) CanAccessUser(userRef string) bool {
	if a == nil {
		return false
	}
	if a.Role == RoleObservabilityAdmin {
		return true
	}
	for _, u := range a.AuthorizedUsers {
		if u == userRef {
			return true
		}
	}
	return false
}
