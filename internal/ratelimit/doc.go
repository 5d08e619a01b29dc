// Package ratelimit throttles requests per client IP with an in-memory token
// bucket per visitor. The CV API mounts it in front of the login route so
// password guessing is bounded per address.
//
// State is local to the process and idle visitors are evicted in the
// background. Distributed guessing across many addresses is not covered.
package ratelimit
