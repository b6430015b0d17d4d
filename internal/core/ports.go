package core

import (
	"context"
	"time"
)

// TrustListRepository is the authoritative store of allow and deny entries
type TrustListRepository interface {
	// Upsert inserts the entry or, when the key exists, increments hit_count
	// and refreshes last_seen_at in the same statement
	Upsert(ctx context.Context, entry *TrustEntry) (*TrustEntry, error)

	// Insert creates the entry and returns ErrConflict when the key exists
	Insert(ctx context.Context, entry *TrustEntry) (*TrustEntry, error)

	// Get loads one entry by key
	Get(ctx context.Context, list ListKind, tenantID int64, typ EntryType, value string) (*TrustEntry, error)

	// GetByID loads one entry by id
	GetByID(ctx context.Context, list ListKind, id int64) (*TrustEntry, error)

	// Delete removes one entry by key and reports whether a row was removed
	Delete(ctx context.Context, list ListKind, tenantID int64, typ EntryType, value string) (bool, error)

	// DeleteByID removes one entry by id
	DeleteByID(ctx context.Context, list ListKind, id int64) error

	// List returns a page of entries and the total number of matches
	List(ctx context.Context, q TrustQuery) ([]*TrustEntry, int, error)

	// Walk visits every entry of a list in id order, optionally for one tenant
	Walk(ctx context.Context, list ListKind, tenantID *int64, batch int, fn func(*TrustEntry) error) error

	// PurgeStale deletes auto-sourced entries created before cutoff with
	// fewer than minHits hits and returns the removed rows
	PurgeStale(ctx context.Context, list ListKind, cutoff time.Time, minHits int64) ([]*TrustEntry, error)
}

// OffenseCounter tracks per-sender rejection counts for the repeat-offender rule
type OffenseCounter interface {
	// IncrementOffense atomically increments and returns the sender's counter
	IncrementOffense(ctx context.Context, tenantID int64, sender string) (int64, error)
}

// QuarantineRepository stores held messages
type QuarantineRepository interface {
	Create(ctx context.Context, msg *QuarantinedMessage) error
	Get(ctx context.Context, id string) (*QuarantinedMessage, error)
	List(ctx context.Context, q QuarantineQuery) ([]*QuarantinedMessage, int, error)

	// Transition moves a quarantined message to a terminal status. It returns
	// ErrConflict when the message is no longer quarantined.
	Transition(ctx context.Context, id string, to QuarantineStatus, at time.Time) error

	// PurgeExpired deletes messages whose retention has passed
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// TenantResolver maps recipient domains to their owning tenant
type TenantResolver interface {
	TenantForDomain(ctx context.Context, domain string) (*Tenant, error)
	FirstActiveTenant(ctx context.Context) (*Tenant, error)
}

// CacheStore is the fast key-value store read by the mail pipeline
type CacheStore interface {
	// Set writes a key with a time-to-live
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes keys immediately
	Delete(ctx context.Context, keys ...string) error
}

// Relay delivers released messages to their mailbox
type Relay interface {
	Deliver(ctx context.Context, env *Envelope) error
}

// Classifier labels a message with an AI model
type Classifier interface {
	Classify(ctx context.Context, email *Email) (*Classification, error)
}
