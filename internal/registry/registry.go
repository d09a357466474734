// Package registry tracks which users are currently online. The backing
// store is an out-of-process hash keyed by userId; it is the single source
// of truth for presence, so every mutation is followed by a full read-back
// rather than trusting any locally cached view.
package registry

import (
	"context"
	"sort"
)

// DefaultHash is the hash holding online users.
const DefaultHash = "onlineUsers"

// OnlineUser is one presence entry: hash key and stored display name.
type OnlineUser struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
}

// Store is the hash-store surface the presence coordinator consumes.
// SetField upserts, so two authentications for the same userId leave
// exactly one entry.
type Store interface {
	SetField(ctx context.Context, hash, key, value string) error
	Fields(ctx context.Context, hash string) ([]OnlineUser, error)
	DeleteField(ctx context.Context, hash, key string) error
}

// sortUsers orders a snapshot by userId so broadcasts are deterministic.
func sortUsers(users []OnlineUser) []OnlineUser {
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}
