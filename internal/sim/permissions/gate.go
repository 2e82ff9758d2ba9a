package permissions

import "errors"

var ErrPermissionDenied = errors.New("permission denied")

// Set is a read-only permission set.
type Set map[Permission]struct{}

func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Resolver maps a rank to its permissions. Implementations must be
// deterministic and free of side effects.
type Resolver interface {
	PermissionsFor(rankID int) Set
}

// Gate decides whether a mutation may reach the stores.
type Gate struct {
	ranks Resolver
}

func NewGate(r Resolver) Gate {
	return Gate{ranks: r}
}

func (g Gate) Has(rankID int, p Permission) bool {
	return g.ranks.PermissionsFor(rankID).Has(p)
}

// Draw admits a pixel, line or text mutation. Only protected targets need
// the protect permission.
func (g Gate) Draw(rankID int, targetProtected bool) error {
	if targetProtected && !g.Has(rankID, Protect) {
		return ErrPermissionDenied
	}
	return nil
}

// Erase admits chunk fills and bulk chunk replacement.
func (g Gate) Erase(rankID int) error {
	if !g.Has(rankID, Erase) {
		return ErrPermissionDenied
	}
	return nil
}

// ToggleProtection admits protect/unprotect regardless of current state.
func (g Gate) ToggleProtection(rankID int) error {
	if !g.Has(rankID, Protect) {
		return ErrPermissionDenied
	}
	return nil
}

// Chat admits a chat message or command of msgLen characters. maxLen <= 0
// disables the length limit.
func (g Gate) Chat(rankID int, msgLen, maxLen int) error {
	perms := g.ranks.PermissionsFor(rankID)
	if !perms.Has(Chat) {
		return ErrPermissionDenied
	}
	if maxLen > 0 && msgLen > maxLen && !perms.Has(BypassChatLength) {
		return ErrPermissionDenied
	}
	return nil
}
