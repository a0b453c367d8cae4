package domain

import (
	"time"

	"github.com/google/uuid"
)

// BlockType is the severity of an instance block
type BlockType string

const (
	BlockTypeFull    BlockType = "full"    // no federation exchange at all
	BlockTypeSilence BlockType = "silence" // exchange allowed, content hidden
)

// BlockedInstance is one row per domain with an active block.
// A row whose expiry has passed is logically inactive even before
// the periodic sweep clears the active flag.
type BlockedInstance struct {
	Id        uuid.UUID
	Domain    string // lower-cased, unique
	BlockType BlockType
	Reason    string
	ExpiresAt *time.Time
	Active    bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the block's expiry has passed
func (b *BlockedInstance) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// Effective reports whether the block currently applies
func (b *BlockedInstance) Effective(now time.Time) bool {
	return b.Active && !b.Expired(now)
}

// DeliveryStatus is the state of one (activity, target inbox) pair
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// MaxDeliveryAttempts bounds the attempt counter; reaching it makes
// the delivery terminally failed.
const MaxDeliveryAttempts = 5

// Delivery tracks one activity heading to one target inbox. Rows are
// created at schedule time, mutated only by the delivery engine, and
// kept as an audit trail.
type Delivery struct {
	Id          uuid.UUID
	ActivityId  uuid.UUID
	ActorId     uuid.UUID
	InboxURI    string
	Status      DeliveryStatus
	Attempts    int
	LastError   string
	DeliveredAt *time.Time
	CreatedAt   time.Time
}

// CanRetry is true only while the delivery is pending and attempts
// remain under the bound. The scheduler driving retries is external;
// this state machine only tracks eligibility.
func (d *Delivery) CanRetry() bool {
	return d.Status == DeliveryPending && d.Attempts < MaxDeliveryAttempts
}

// Activity is a stored ActivityPub activity, local or remote
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Create, Follow, Accept, Announce, Undo, ...
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	Local        bool
	CreatedAt    time.Time
}

// DeliveryLog is one immutable telemetry record per delivery attempt
type DeliveryLog struct {
	Id             uuid.UUID
	ActorId        uuid.UUID
	InboxURI       string
	InstanceDomain string
	ActivityType   string
	Status         DeliveryStatus
	HTTPStatus     int
	Error          string
	Attempt        int
	CreatedAt      time.Time
}

// DeliveryStats is an aggregate over the telemetry log
type DeliveryStats struct {
	Total       int
	Delivered   int
	Failed      int
	SuccessRate float64
}

// InstanceFailures groups telemetry by remote instance, joined with
// the instance's current block status.
type InstanceFailures struct {
	InstanceDomain string
	Total          int
	Failed         int
	FailureRate    float64
	Blocked        bool
	Silenced       bool
}
