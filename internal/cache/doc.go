// Package cache defines the versioned response store that backs every app
// scope. A store holds one bucket per (scope, version) pair; each bucket maps
// request keys (method + path + query) to captured HTTP responses. Whole
// versions can be enumerated and dropped, individual entries cannot.
// Three drivers are provided: fs (StoragePath/<scope>/<version>/... files
// written with temp file + rename), sqlite (a single WAL database) and memory.
// Strategy code depends on this package to store and replay responses without
// knowing which driver is in use.
package cache
