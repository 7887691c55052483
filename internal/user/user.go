// Package user defines the identity model used for registration,
// login and ownership of travel stories.
package user

import "time"

// User represents a registered identity.
// PasswordHash is never serialised to clients.
type User struct {
	// ID is the unique identifier of the user, meaning a UUID.
	ID string `json:"_id"`

	FullName string `json:"fullName"`

	// Email is unique across all users.
	Email string `json:"email"`

	PasswordHash string `json:"-"`

	CreatedOn time.Time `json:"createdOn"`
}

// Summary is the public part of a user returned after registration and login.
type Summary struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// Summary returns the public identity summary.
func (u *User) Summary() Summary {
	return Summary{
		FullName: u.FullName,
		Email:    u.Email,
	}
}
