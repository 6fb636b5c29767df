// Package models defines server-side persistence models.
package models

// User is an account row. PasswordHash is a bcrypt hash and never leaves
// the server.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
}
