// Package cryptoutil holds small primitives shared by the auth code:
// constant-time comparison, hashing and random material.
package cryptoutil
