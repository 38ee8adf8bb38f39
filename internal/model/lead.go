package model

import "time"

// LeadStatus represents the enrichment state of a lead.
type LeadStatus string

const (
	LeadStatusPending    LeadStatus = "pending"
	LeadStatusProcessing LeadStatus = "processing"
	LeadStatusCompleted  LeadStatus = "completed"
	LeadStatusPartial    LeadStatus = "partial"    // identifier verified, profile fetch timed out
	LeadStatusBasic      LeadStatus = "basic"      // identifier verified, provider had no profile
	LeadStatusUnenriched LeadStatus = "unenriched" // discovery found nothing
	LeadStatusFailed     LeadStatus = "failed"
)

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusPending, LeadStatusProcessing, LeadStatusCompleted,
		LeadStatusPartial, LeadStatusBasic, LeadStatusUnenriched, LeadStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition happens from s.
func (s LeadStatus) Terminal() bool {
	return s == LeadStatusCompleted || s == LeadStatusFailed
}

// Retryable reports whether the retry scheduler may select a lead in s.
func (s LeadStatus) Retryable() bool {
	return s == LeadStatusPartial || s == LeadStatusUnenriched
}

// RetryableStatuses lists the statuses the retry scheduler selects from.
var RetryableStatuses = []LeadStatus{LeadStatusPartial, LeadStatusUnenriched}

// Lead is one inbound contact event awaiting or having undergone enrichment.
type Lead struct {
	ID          string         `json:"id"`
	ExternalID  string         `json:"external_id"`
	Name        string         `json:"name"`
	Phone       string         `json:"phone,omitempty"`
	Email       string         `json:"email,omitempty"`
	Source      string         `json:"source,omitempty"`
	Campaign    string         `json:"campaign,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      LeadStatus     `json:"status"`
	RetryCount  int            `json:"retry_count"`
	LastRetryAt *time.Time     `json:"last_retry_at,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	PartyID     string         `json:"party_id,omitempty"`
	CRMRef      string         `json:"crm_ref,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	EnrichedAt  *time.Time     `json:"enriched_at,omitempty"`
}

// StatusUpdate carries the optional references written alongside a status
// transition. Empty strings leave the stored value unchanged.
type StatusUpdate struct {
	Status  LeadStatus
	PartyID string
	CRMRef  string
	Error   string
}

// Outcome is the definite answer every orchestrator invocation returns.
type Outcome struct {
	LeadID  string     `json:"lead_id"`
	Success bool       `json:"success"`
	Status  LeadStatus `json:"status"`
	Message string     `json:"message"`
	// Busy is set when another pass held the lead's lock and nothing ran.
	Busy bool `json:"busy,omitempty"`
}
