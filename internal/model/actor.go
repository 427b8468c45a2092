package model

// Role values carried in the "role" claim of access tokens.
const (
	RoleCommuter = "COMMUTER"
	RoleAdmin    = "ADMIN"
)

// Actor is the authenticated caller of a lifecycle operation.  Identity
// and role are verified upstream and trusted here.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
