// Package model holds the durable data shapes the outbox engine operates on:
// records, fleet instances, and partition assignments.
package model

import "time"

// RecordStatus is the lifecycle state of an OutboxRecord.
type RecordStatus string

const (
	StatusNew       RecordStatus = "NEW"
	StatusCompleted RecordStatus = "COMPLETED"
	StatusFailed    RecordStatus = "FAILED"
)

// PartitionCount is the frozen number of partitions records are sharded
// across. Re-hashing into a different partition count is not supported.
const PartitionCount = 256

// OutboxRecord is the unit of work written by an application transaction and
// delivered at-least-once to the handler identified by HandlerID.
type OutboxRecord struct {
	ID               string
	Key              string
	Partition        int
	HandlerID        string
	RecordType       string
	Payload          []byte
	Status           RecordStatus
	CreatedAt        time.Time
	CompletedAt      *time.Time
	FailureCount     int
	NextRetryAt      time.Time
	FailureException *string
	Context          map[string]string
}

// Ready reports whether the record is eligible to be picked up by the
// scheduler at the given instant.
func (r *OutboxRecord) Ready(now time.Time) bool {
	return r.Status == StatusNew && !r.NextRetryAt.After(now)
}

// Incomplete reports whether the record still needs processing.
func (r *OutboxRecord) Incomplete() bool {
	return r.CompletedAt == nil
}

// InstanceStatus is the lifecycle state of an OutboxInstance.
type InstanceStatus string

const (
	InstanceActive       InstanceStatus = "ACTIVE"
	InstanceShuttingDown InstanceStatus = "SHUTTING_DOWN"
	InstanceDead         InstanceStatus = "DEAD"
)

// OutboxInstance is a running worker process participating in the fleet.
type OutboxInstance struct {
	InstanceID    string
	Hostname      string
	Port          int
	Status        InstanceStatus
	StartedAt     time.Time
	LastHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Stale reports whether the instance should be considered dead given
// staleTimeout.
func (i *OutboxInstance) Stale(now time.Time, staleTimeout time.Duration) bool {
	return now.Sub(i.LastHeartbeat) > staleTimeout
}

// PartitionAssignment records which instance (if any) owns a partition, with
// a monotone version used as a compare-and-swap token.
type PartitionAssignment struct {
	PartitionNumber int
	InstanceID      *string
	Version         int64
	AssignedAt      *time.Time
	UpdatedAt       time.Time
}

// Owned reports whether the partition is currently bound to instanceID.
func (p *PartitionAssignment) Owned(instanceID string) bool {
	return p.InstanceID != nil && *p.InstanceID == instanceID
}

// Unassigned reports whether the partition has no owner at all. A partition
// whose owner is dead still has an InstanceID and is not Unassigned.
func (p *PartitionAssignment) Unassigned() bool {
	return p.InstanceID == nil
}
