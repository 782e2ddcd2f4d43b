package domain

// Principal is the authenticated caller handed over by the auth capability.
type Principal struct {
	UserID     uint
	Role       string
	AdvisoryID *uint
}

// IsAdmin reports whether the principal may act on any record.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
