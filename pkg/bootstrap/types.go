// Package bootstrap loads the fixture data the host seeds into a freshly
// migrated database.
package bootstrap

import "strings"

// SeedUser is one user row in a seed file.
type SeedUser struct {
	Email string  `json:"email"`
	Name  *string `json:"name,omitempty"`
	Bio   *string `json:"bio,omitempty"`
}

// SeedConfig is the root of a seed file.
type SeedConfig struct {
	Name    string     `json:"name"`
	Version string     `json:"version"`
	Users   []SeedUser `json:"users"`
}

// ResolvedSeed provides case-insensitive lookup of seed users by email.
type ResolvedSeed struct {
	name    string
	version string
	users   []SeedUser
	byEmail map[string]*SeedUser
}

// Get returns the seed user with the given email, or nil.
func (rs *ResolvedSeed) Get(email string) *SeedUser {
	return rs.byEmail[strings.ToLower(email)]
}

// Users returns the seed users in file order, without duplicates.
func (rs *ResolvedSeed) Users() []SeedUser {
	return rs.users
}

// Name returns the seed config name.
func (rs *ResolvedSeed) Name() string {
	return rs.name
}

// Version returns the seed config version.
func (rs *ResolvedSeed) Version() string {
	return rs.version
}
