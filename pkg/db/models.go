package db

import "time"

// User represents a row in the users table.
type User struct {
	ID       int64     `json:"id"`
	Email    string    `json:"email"`
	Name     *string   `json:"name,omitempty"`
	Bio      *string   `json:"bio,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// DisplayName returns the user's name, or "" when it is unset.
func (u *User) DisplayName() string {
	if u == nil || u.Name == nil {
		return ""
	}
	return *u.Name
}
