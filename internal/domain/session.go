package domain

// Session holds the authenticated-user state for one client process.
// It is created on login, registration or reconciliation and destroyed
// on logout or refresh failure.
type Session struct {
	User          *User
	Authenticated bool
}

// UserID returns the session user's id, or 0 when unauthenticated.
func (s Session) UserID() int64 {
	if s.User == nil {
		return 0
	}
	return s.User.ID
}
