// Package domain contains core domain types for the Ustabor client.
package domain

// Role identifies a marketplace participant role.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleMaster Role = "MASTER"
	RoleAdmin  Role = "ADMIN"
)

// User represents an account as returned by the accounts API.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Role        Role   `json:"role"`
	IsActive    bool   `json:"is_active"`
	Picture     string `json:"picture,omitempty"`
}

// DisplayName returns the user's full name, falling back to the username
// when no name fields are set.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}

// IsMaster reports whether the user is a service provider.
func (u *User) IsMaster() bool {
	return u.Role == RoleMaster
}
