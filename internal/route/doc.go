// Package route holds the static prefix rules that decide which backend, if
// any, receives a request. A Table is built once at startup and is read-only
// afterwards, so lookups need no locking.
package route
