// Package store provides the go-decay timed key-value store. Every entry
// carries an absolute deadline; reads past the deadline expire the entry
// inline, and a background goroutine sweeps random samples of the keyspace
// so stale entries are reclaimed without waiting to be read. The sweep
// cadence, sampling probability, and expiration callback can be customized
// through options when creating the store.
package store
