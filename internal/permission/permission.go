// Package permission is the single place where a stored role plus a
// raw permission value turn into an effective capability set. Every
// other component calls into it instead of re-deriving owner or admin
// privileges.
package permission

import (
	"encoding/json"

	"github.com/parleyhq/parley/pkg/constant"
)

// Keys is the fixed capability key set
var Keys = []string{
	constant.CapManageMembers,
	constant.CapManageSettings,
	constant.CapModerateMessages,
}

// Set is a normalized capability map over the fixed key set
type Set map[string]bool

// Has reports whether the capability is granted
func (s Set) Has(key string) bool {
	return s != nil && s[key]
}

// None returns a set with every capability false
func None() Set {
	s := make(Set, len(Keys))
	for _, k := range Keys {
		s[k] = false
	}
	return s
}

// All returns a set with every capability true
func All() Set {
	s := make(Set, len(Keys))
	for _, k := range Keys {
		s[k] = true
	}
	return s
}

// DefaultAdmin is the capability set applied when promoting a member
// to admin without explicit capabilities
func DefaultAdmin() Set {
	return Set{
		constant.CapManageMembers:    true,
		constant.CapManageSettings:   true,
		constant.CapModerateMessages: false,
	}
}

// Normalize translates a stored role and raw permission value into an
// effective capability set.
//
// Owner gets every capability regardless of stored data. Admin reads
// recognized boolean keys from the raw JSON object; unrecognized keys
// are ignored and missing keys fall back to the caller-supplied
// fallback (false when fallback is nil). Member or unknown roles get
// nothing. The raw value may be absent or malformed; both normalize
// the same as an empty object.
func Normalize(role string, raw []byte, fallback Set) Set {
	switch role {
	case constant.RoleOwner:
		return All()
	case constant.RoleAdmin:
		return normalizeAdmin(raw, fallback)
	default:
		return None()
	}
}

func normalizeAdmin(raw []byte, fallback Set) Set {
	var stored map[string]bool
	if len(raw) > 0 {
		// Malformed values degrade to an empty object
		_ = json.Unmarshal(raw, &stored)
	}

	s := make(Set, len(Keys))
	for _, k := range Keys {
		if v, ok := stored[k]; ok {
			s[k] = v
		} else if fallback != nil {
			s[k] = fallback[k]
		} else {
			s[k] = false
		}
	}
	return s
}

// Encode serializes a capability set to the stored JSON form
func Encode(s Set) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ValidRole reports whether the role is one of owner/admin/member
func ValidRole(role string) bool {
	switch role {
	case constant.RoleOwner, constant.RoleAdmin, constant.RoleMember:
		return true
	}
	return false
}
