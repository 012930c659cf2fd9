// Package tokenpkg verifies access tokens that carry the acting user's identity.
//
// Tokens are issued by the identity service sharing the symmetric key;
// the ledger uses Payload.Username as the actor of every mutation.
package tokenpkg

import "time"

// Maker is an interface for managing tokens.
type Maker interface {
	// CreateToken creates a new token for a specific username and duration.
	CreateToken(username string, duration time.Duration) (string, *Payload, error)
	// VerifyToken checks if the token is valid or not.
	VerifyToken(token string) (*Payload, error)
}
