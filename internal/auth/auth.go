package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleChatUser = "chat_user"
	RoleAdmin    = "admin"
)

var knownRoles = []string{RoleAdmin, RoleChatUser}

// Identity is the authenticated caller. Subject is recorded in audit entries.
type Identity struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the identity carries role. Admins hold every role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role) || slices.Contains(i.Roles, RoleAdmin)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds SHA-256 digests of the configured keys, never
// the keys themselves.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses a comma separated list of
// key:subject:role|role entries. Roles must be chat_user or admin.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for i, entry := range strings.Split(spec, ",") {
		// Entries are identified by position so key material stays out of errors.
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("static key entry %d: expected key:subject:role|role", i+1)
		}
		key := strings.TrimSpace(parts[0])
		subject := strings.TrimSpace(parts[1])
		if key == "" || subject == "" {
			return nil, fmt.Errorf("static key entry %d: empty key/subject", i+1)
		}
		roles, err := parseRoles(parts[2])
		if err != nil {
			return nil, fmt.Errorf("static key entry %d (%s): %w", i+1, subject, err)
		}
		digest := sha256.Sum256([]byte(key))
		if _, dup := validator.keys[digest]; dup {
			return nil, fmt.Errorf("static key entry %d (%s): duplicate key", i+1, subject)
		}
		validator.keys[digest] = Identity{Subject: subject, Roles: roles}
	}
	return validator, nil
}

func parseRoles(raw string) ([]string, error) {
	var roles []string
	for _, role := range strings.Split(raw, "|") {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return nil, fmt.Errorf("unknown role %q", role)
		}
		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}
	slices.Sort(roles)
	return roles, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}
