// Package cache defines the named cache stores the caching worker reads and
// writes. A Provider owns a set of stores keyed by name (opened lazily, deleted
// only as a whole) and each Store maps a request key to a captured Response.
// Three drivers ship with the package: an in-memory driver for tests and
// ephemeral deployments, a disk driver laid out as StoragePath/<store>/<hash>
// (temp file + rename), and a SQLite driver for single-file persistence.
// Entries never expire on their own; version garbage collection happens by
// deleting whole stores during worker activation.
package cache
