// Package auth resolves quick-auth login tokens to ranks. A token is a
// (key, secret) pair such as ("adminlogin", "hunter2"); only SHA-256 digests
// of secrets are ever stored.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"pixelcanvas.io/internal/sim/permissions"
)

type Resolver interface {
	// Resolve returns the rank granted by the token. ok=false means the token
	// is unknown; err is reserved for backend failures.
	Resolve(ctx context.Context, key, secret string) (rankID int, ok bool, err error)
}

func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	hash string
	rank int
}

// MemoryResolver serves the static logins of the rank table.
type MemoryResolver struct {
	byKey map[string]memoryEntry
}

func NewMemoryResolver(t *permissions.Table) *MemoryResolver {
	m := &MemoryResolver{byKey: map[string]memoryEntry{}}
	for _, r := range t.Ranks() {
		if r.Login == nil {
			continue
		}
		m.byKey[strings.TrimSpace(r.Login.Key)] = memoryEntry{
			hash: strings.ToLower(r.Login.PasswordSHA256),
			rank: r.ID,
		}
	}
	return m
}

func (m *MemoryResolver) Resolve(_ context.Context, key, secret string) (int, bool, error) {
	e, ok := m.byKey[key]
	if !ok {
		return 0, false, nil
	}
	got := HashSecret(secret)
	if subtle.ConstantTimeCompare([]byte(got), []byte(e.hash)) != 1 {
		return 0, false, nil
	}
	return e.rank, true, nil
}

// Chain consults resolvers in order and returns the first match. Backend
// errors are returned only when no resolver matched.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, key, secret string) (int, bool, error) {
	var errs []error
	for _, r := range c {
		if r == nil {
			continue
		}
		rank, ok, err := r.Resolve(ctx, key, secret)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return rank, true, nil
		}
	}
	return 0, false, errors.Join(errs...)
}
