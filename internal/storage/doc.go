// Package storage provides the BBolt state database for lockersim.
//
// Database structure uses three buckets:
//   - config: schema version and creation time
//   - keys: key records for the file key store, wrapped under a
//     passphrase-derived key (never the raw key)
//   - runs: journal of lock/unlock batches keyed by a big-endian sequence
//
// BBolt provides ACID transactions and an exclusive file lock, which the
// file key store relies on for atomic create-or-fetch.
package storage
