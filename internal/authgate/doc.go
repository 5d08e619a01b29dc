// Package authgate authenticates the site's single admin principal and mints
// the short-lived HS256 bearer tokens that authorize content writes.
//
// Password hashes use the form "salt:hexhash" where hexhash is
// PBKDF2-HMAC-SHA256 over the password with the hex salt string as salt.
// Tokens are stateless; there is no revocation before expiry.
package authgate
