// Package hashing implements the frozen key→partition function. Do not swap
// the hash function: OutboxRecord.Partition must stay stable for a record's
// entire lifetime, and the partition count (256) is a frozen design
// constant (see model.PartitionCount).
package hashing

import (
	"hash/fnv"

	"github.com/outboxware/outbox/internal/model"
)

// Hash32 returns the FNV-1a 32-bit hash of key's UTF-8 bytes.
func Hash32(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

// Partition returns the partition key hashes to, in [0, model.PartitionCount).
func Partition(key string) int {
	return int(Hash32(key) % uint32(model.PartitionCount))
}
