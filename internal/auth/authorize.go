package auth

import "sort"

// PermissionSet is a set of permission names.
type PermissionSet map[string]struct{}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the names in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ResolvePermissions returns the effective permissions of p via its role.
// A principal without a role has none; super-admins get no implicit grant.
func ResolvePermissions(p *Principal) PermissionSet {
	set := PermissionSet{}
	if p == nil || p.Role == nil {
		return set
	}
	for _, perm := range p.Role.Permissions {
		if perm.Name == "" {
			continue
		}
		set[perm.Name] = struct{}{}
	}
	return set
}

// Identity is an authenticated principal with freshly resolved permissions.
type Identity struct {
	Principal   *Principal
	Permissions PermissionSet
}

// NewIdentity resolves the permissions of p.
func NewIdentity(p *Principal) Identity {
	return Identity{Principal: p, Permissions: ResolvePermissions(p)}
}

// HasPermission reports whether the identity holds the named permission.
func (i Identity) HasPermission(name string) bool {
	return i.Permissions.Has(name)
}

// Authorize checks that id holds every permission in required. An empty
// required set is a misconfigured route and is rejected.
func Authorize(required []string, id *Identity) error {
	if len(required) == 0 {
		return newError(ErrForbidden, "No permissions specified for this route")
	}
	if id == nil || id.Principal == nil || id.Principal.Role == nil || id.Permissions == nil {
		return newError(ErrForbidden, "User not authenticated or permissions missing")
	}
	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, perm := range required {
		if _, dup := seen[perm]; dup {
			continue
		}
		seen[perm] = struct{}{}
		if !id.Permissions.Has(perm) {
			missing = append(missing, perm)
		}
	}
	if len(missing) > 0 {
		return forbiddenMissing(missing)
	}
	return nil
}
