package core

import (
	"time"
)

// ListKind identifies one of the two trust collections
type ListKind string

const (
	AllowList ListKind = "allow"
	DenyList  ListKind = "deny"
)

// Valid reports whether the list kind is known
func (k ListKind) Valid() bool {
	return k == AllowList || k == DenyList
}

// Opposite returns the other collection
func (k ListKind) Opposite() ListKind {
	if k == AllowList {
		return DenyList
	}
	return AllowList
}

// EntryType is the kind of value held by a trust entry
type EntryType string

const (
	EntryEmail  EntryType = "email"
	EntryDomain EntryType = "domain"
	EntryIP     EntryType = "ip"
)

// Valid reports whether the entry type is known
func (t EntryType) Valid() bool {
	switch t {
	case EntryEmail, EntryDomain, EntryIP:
		return true
	}
	return false
}

// Source records who created a trust entry
type Source string

const (
	SourceManual     Source = "manual"
	SourceAutoRspamd Source = "auto_rspamd"
	SourceAutoVirus  Source = "auto_virus"
	SourceAutoAI     Source = "auto_ai"
)

// Valid reports whether the source is known
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceAutoRspamd, SourceAutoVirus, SourceAutoAI:
		return true
	}
	return false
}

// IsAuto reports whether the entry was created by the escalation engine
func (s Source) IsAuto() bool {
	return s != SourceManual
}

// TrustEntry is a single (tenant, type, value) row of the allow or deny list
type TrustEntry struct {
	ID         int64     `json:"id"`
	List       ListKind  `json:"list"`
	TenantID   int64     `json:"tenant_id"`
	Type       EntryType `json:"type"`
	Value      string    `json:"value"`
	Comment    string    `json:"comment"`
	Source     Source    `json:"source"`
	HitCount   int64     `json:"hit_count"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TrustQuery filters a paginated trust list listing
type TrustQuery struct {
	List     ListKind
	TenantID *int64
	Type     EntryType
	Search   string
	Limit    int
	Offset   int
}

// Disposition is the effective policy for a value after applying deny precedence
type Disposition string

const (
	DispositionNone    Disposition = "none"
	DispositionAllowed Disposition = "allowed"
	DispositionDenied  Disposition = "denied"
)

// QuarantineStatus is the lifecycle state of a held message
type QuarantineStatus string

const (
	StatusQuarantined QuarantineStatus = "quarantined"
	StatusReleased    QuarantineStatus = "released"
	StatusReported    QuarantineStatus = "reported"
	StatusDeleted     QuarantineStatus = "deleted"
)

// Terminal reports whether no transition may leave the status
func (s QuarantineStatus) Terminal() bool {
	return s != StatusQuarantined
}

// Valid reports whether the status is known
func (s QuarantineStatus) Valid() bool {
	switch s {
	case StatusQuarantined, StatusReleased, StatusReported, StatusDeleted:
		return true
	}
	return false
}

// QuarantinedMessage is a message held by the filtering pipeline pending review
type QuarantinedMessage struct {
	ID          string              `json:"id"`
	TenantID    int64               `json:"tenant_id"`
	MessageID   string              `json:"message_id"`
	FromAddress string              `json:"from_address"`
	ToAddress   string              `json:"to_address"`
	Subject     string              `json:"subject"`
	Reason      string              `json:"reason"`
	SpamScore   float64             `json:"spam_score"`
	Body        string              `json:"body,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Status      QuarantineStatus    `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	ReleasedAt  *time.Time          `json:"released_at,omitempty"`
	DeletedAt   *time.Time          `json:"deleted_at,omitempty"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// QuarantineQuery filters a paginated quarantine listing
type QuarantineQuery struct {
	TenantID *int64
	Status   QuarantineStatus
	Search   string
	Limit    int
	Offset   int
}

// Tenant is the read-only view of a tenant owned by the CRUD layer
type Tenant struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Envelope is what the relay needs to deliver a released message
type Envelope struct {
	From    string
	To      []string
	Subject string
	Body    string
	Headers map[string][]string
}

// Email represents an email message handed to an AI classifier
type Email struct {
	From    string
	To      []string
	Subject string
	Body    string
	Headers map[string][]string
}

// Classification is the label an AI classifier assigned to a message
type Classification struct {
	Label        string    `json:"label"`
	Confidence   float64   `json:"confidence"`
	Explanation  string    `json:"explanation"`
	ModelUsed    string    `json:"model"`
	ProcessingID string    `json:"processing_id,omitempty"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}
