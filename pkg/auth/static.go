package auth

import (
	"context"
	"crypto/subtle"
)

// StaticAuthenticator 固定凭据表
type StaticAuthenticator struct {
	entries []staticEntry
}

type staticEntry struct {
	secret   []byte
	identity Identity
}

// NewStaticAuthenticator 创建固定凭据认证器
func NewStaticAuthenticator(tokens map[string]Identity) *StaticAuthenticator {
	a := &StaticAuthenticator{entries: make([]staticEntry, 0, len(tokens))}
	for secret, id := range tokens {
		a.entries = append(a.entries, staticEntry{secret: []byte(secret), identity: id})
	}
	return a
}

// Authenticate 逐项常量时间比较
func (a *StaticAuthenticator) Authenticate(_ context.Context, cred Credentials) (*Identity, error) {
	secret := cred.Secret()
	if secret == "" {
		return nil, ErrMissingCredentials
	}
	var found *Identity
	for i := range a.entries {
		if subtle.ConstantTimeCompare(a.entries[i].secret, []byte(secret)) == 1 {
			id := a.entries[i].identity
			id.Permissions = append([]string(nil), id.Permissions...)
			found = &id
		}
	}
	if found == nil {
		return nil, ErrInvalidCredentials
	}
	return found, nil
}
