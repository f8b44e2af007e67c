// Package storage persists the member directory, the per-user message log
// and the admitted-chat counter behind a small Store interface with SQLite
// and in-memory backends.
package storage
