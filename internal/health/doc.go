// Package health holds the liveness and readiness probes served on the ops
// listener.
//
// A [Probe] is checked per request. [All] joins probes, [Named] prefixes a
// probe's failure with the dependency it covers, and [Gate] fails readiness
// once shutdown has begun so the load balancer drains the instance before the
// public listener stops.
package health
