// Package publisher exports applied mutations as a change feed.
//
// Every write applied to the local store, whether accepted from a client or
// received from the block leader, is appended to a PublishLog as a
// ChangeEvent. The log is a Pebble database, kept on an in-memory filesystem
// unless a data directory is configured. Each configured sink has a Worker
// that reads from its cursor, filters keys with glob patterns, encodes the
// event, optionally zstd-compresses it and publishes it with exponential
// backoff. Cursors advance only after a successful publish, so delivery is
// at-least-once.
//
// Storage layout:
//
//	/publog/{seq:016x}   -> msgpack(ChangeEvent)
//	/pubcursor/{sink}    -> uint64
//	/pubseq              -> uint64
//
// Topics are "{topic_prefix}.{block}" and messages are keyed by the store
// key, so per-key order is kept on partitioned sinks.
//
// Workers are woken through a notify.Hub on every append and fall back to
// polling. Entries consumed by every sink are range-deleted every 128
// sequence numbers.
package publisher
