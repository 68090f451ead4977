package domain

import "time"

type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Session maps an opaque token to a username. Tokens are issued by
// LOGIN/REGISTER and evaluated against a TTL on every lookup.
type Session struct {
	Token    string
	Username string
	IssuedAt time.Time
}
