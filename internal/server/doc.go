// Package server hosts the Fiber HTTP service, the request middleware chain and
// the app registry that maps a Host header to one proxied web application.
// Each AppRoute owns the worker Registration that decides which cache version
// currently controls the app; the proxy package consumes routes through the
// ProxyHandler interface so tests can inject fakes. Keep exports narrow and
// accept explicit dependencies.
package server
