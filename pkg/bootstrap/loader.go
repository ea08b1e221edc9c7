package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const logPrefix = "bootstrap:loader"

// Example user every fresh database starts with.
const (
	ExampleUserEmail = "example@user.com"
	ExampleUserName  = "Example User"
	ExampleUserBio   = "I am an example user"
)

// LoadSeedConfig loads seed data from file paths or environment.
// It tries paths in order: first any paths passed in, then SEED_FILE env, then defaults.
// So an explicit path (e.g. from "seed my.json") is tried before the env var.
func LoadSeedConfig(paths ...string) (*SeedConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("SEED_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/seed.json", "seed.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg SeedConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse seed file %s: %v", logPrefix, p, err))
			continue
		}
		if err := Validate(&cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Invalid seed file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded seed config from %s (%d users)", logPrefix, p, len(cfg.Users)))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default seed config", logPrefix))
	return GetDefaultSeedConfig(), nil
}

// GetDefaultSeedConfig returns the built-in seed: the example user.
func GetDefaultSeedConfig() *SeedConfig {
	name, bio := ExampleUserName, ExampleUserBio
	return &SeedConfig{
		Name:    "default-seed",
		Version: "1.0.0",
		Users: []SeedUser{
			{Email: ExampleUserEmail, Name: &name, Bio: &bio},
		},
	}
}

// Validate rejects seed users without a plausible email.
func Validate(cfg *SeedConfig) error {
	for i, u := range cfg.Users {
		if !strings.Contains(u.Email, "@") {
			return fmt.Errorf("%s - user %d has invalid email %q", logPrefix, i, u.Email)
		}
	}
	return nil
}

// CreateResolvedSeed builds a ResolvedSeed for fast lookups. Later entries
// with the same email replace earlier ones in place.
func CreateResolvedSeed(cfg *SeedConfig) *ResolvedSeed {
	rs := &ResolvedSeed{
		name:    cfg.Name,
		version: cfg.Version,
		byEmail: make(map[string]*SeedUser, len(cfg.Users)),
	}
	index := make(map[string]int, len(cfg.Users))
	for _, u := range cfg.Users {
		key := strings.ToLower(u.Email)
		if i, ok := index[key]; ok {
			rs.users[i] = u
			continue
		}
		index[key] = len(rs.users)
		rs.users = append(rs.users, u)
	}
	for i := range rs.users {
		rs.byEmail[strings.ToLower(rs.users[i].Email)] = &rs.users[i]
	}
	return rs
}

// MergeSeedConfigs merges an override config into a base config. Users are
// matched by email; override entries win.
func MergeSeedConfigs(base, override *SeedConfig) *SeedConfig {
	merged := *base
	merged.Users = append(append([]SeedUser(nil), base.Users...), override.Users...)
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	merged.Users = CreateResolvedSeed(&merged).Users()
	return &merged
}
