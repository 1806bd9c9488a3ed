// Package ratelimit is a per-IP token bucket for form submissions. Every POST
// costs an upstream API call, so the limiter sits in front of those routes
// only.
//
// It is in-memory and per-instance. It does not stop distributed floods; that
// is left to the load balancer or CDN in front.
package ratelimit
