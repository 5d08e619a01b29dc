// Package httpmw holds the middleware stack of the public API listener.
//
// httpserver.NewHandler composes it outermost first: panic recovery,
// security headers, request id, client ip, tracing, metrics, logging and
// the chi router. Query strings, user agents and request bodies never reach
// the logs; credentials travel in bodies and bearer headers.
package httpmw
