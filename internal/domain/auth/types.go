// Package auth contains the domain types and logic for authenticating the
// scanner itself against the target application (HTTP Basic Auth or a
// stored login credential), not for authenticating callers of the scanner.
package auth

// Credential is a username/password pair the HTTP engine presents to the
// target application. PasswordHash stores the password at rest (e.g. in a
// saved scan profile); the raw password is never persisted.
type Credential struct {
	// Username is presented on the Basic Auth challenge.
	Username string
	// PasswordHash is an Argon2id (or legacy SHA-256) hash of the password,
	// in the same formats VerifyKey understands.
	PasswordHash string
	// Realm restricts the credential to a specific Basic Auth realm; empty
	// means it applies to any realm on the target host.
	Realm string
}
