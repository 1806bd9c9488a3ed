// Package httpmw holds the middleware of the public listener.
//
// httpserver composes it outermost first: security headers, panic recovery,
// request ID, client IP, OTel tracing, trace response headers, metrics,
// request logger, access log, then the chi router. Rate limiting and body
// limits are attached per route group by sitehttp.
//
// Form values, query strings and user agents are never logged.
package httpmw
