// Package cvhttp exposes the content store and the auth gate as the JSON
// API consumed by the CV site frontend and its admin panel.
//
// Reads of the live document and the status endpoint are public. Every
// write, export and backup operation requires a bearer token issued by
// /api/auth/login. Errors are returned as {"detail": "..."}.
package cvhttp
