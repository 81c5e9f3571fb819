// Package store provides the durable halves of the reading history: a blob
// store for synthesized audio and a single-snapshot metadata store for the
// history records. Every backend opens its underlying resource lazily and
// exactly once.
package store
