package models

import (
	"encoding/json"
	"time"
)

// Domain models shared by the sync engine, the sqlite store and the API.

// TechnicianMapping is one row of the technician -> remote identity table.
// An empty string means the field is absent.
type TechnicianMapping struct {
	TechnicianName  string `json:"technician_name" yaml:"technician_name"`
	RemoteEmail     string `json:"remote_email,omitempty" yaml:"remote_email"`
	RemoteAccountID string `json:"remote_account_id,omitempty" yaml:"remote_account_id"`
}

func (m TechnicianMapping) HasEmail() bool     { return m.RemoteEmail != "" }
func (m TechnicianMapping) HasAccountID() bool { return m.RemoteAccountID != "" }

type AssignmentResult string

const (
	AssignmentAssigned          AssignmentResult = "ASSIGNED"
	AssignmentSkippedNoIdentity AssignmentResult = "SKIPPED_NO_IDENTITY"
	AssignmentFailed            AssignmentResult = "FAILED"
)

type CommentResult string

const (
	CommentPosted  CommentResult = "POSTED"
	CommentSkipped CommentResult = "SKIPPED"
	CommentFailed  CommentResult = "FAILED"
)

// SyncOutcome is the immutable audit record of one sync attempt for one ticket.
// ErrorDetail is set iff either result is FAILED.
type SyncOutcome struct {
	ID               string           `json:"id" db:"id"`
	BatchID          string           `json:"batch_id,omitempty" db:"batch_id"`
	TicketID         string           `json:"ticket_id" db:"ticket_id"`
	TechnicianName   string           `json:"technician_name" db:"technician_name"`
	Timestamp        time.Time        `json:"timestamp" db:"created"`
	Strategy         string           `json:"strategy,omitempty" db:"strategy"`
	GapReason        string           `json:"gap_reason,omitempty" db:"gap_reason"`
	AssignmentResult AssignmentResult `json:"assignment_result" db:"assignment_result"`
	CommentResult    CommentResult    `json:"comment_result" db:"comment_result"`
	ErrorDetail      string           `json:"error_detail,omitempty" db:"error_detail"`
}

// Failed reports whether any remote step failed.
func (o SyncOutcome) Failed() bool {
	return o.AssignmentResult == AssignmentFailed || o.CommentResult == CommentFailed
}

// Complete reports whether the ticket was assigned and the audit comment posted.
func (o SyncOutcome) Complete() bool {
	return o.AssignmentResult == AssignmentAssigned && o.CommentResult == CommentPosted
}

// Warning returns the non-blocking operator warning for this outcome, or "".
func (o SyncOutcome) Warning() string {
	switch {
	case o.Complete():
		return ""
	case o.AssignmentResult == AssignmentSkippedNoIdentity:
		return "remote assignment skipped: " + o.GapReason
	case o.Failed():
		return "remote sync failed: " + o.ErrorDetail
	}
	return ""
}

// SyncStatus is the reconciled per-ticket sync state kept in the local store.
func (o SyncOutcome) SyncStatus() string {
	switch {
	case o.Complete():
		return SyncStatusSynced
	case o.AssignmentResult == AssignmentSkippedNoIdentity:
		return SyncStatusUnmapped
	case o.AssignmentResult == AssignmentAssigned || o.CommentResult == CommentPosted:
		return SyncStatusPartial
	}
	return SyncStatusFailed
}

const (
	SyncStatusPending  = "pending"
	SyncStatusSyncing  = "syncing"
	SyncStatusSynced   = "synced"
	SyncStatusPartial  = "partial"
	SyncStatusFailed   = "failed"
	SyncStatusUnmapped = "unmapped"
)

// Pair is one batch sync input item.
type Pair struct {
	TicketID       string `json:"ticket_id"`
	TechnicianName string `json:"technician_name"`
}

// LocalTicket is the canonical local assignment. It never stores the remote identity.
type LocalTicket struct {
	TicketID       string `json:"ticket_id" db:"ticket_id"`
	TechnicianName string `json:"technician_name" db:"technician_name"`
	AssignedAt     int64  `json:"assigned_at" db:"assigned_at"`
	SyncStatus     string `json:"sync_status" db:"sync_status"`
	LastSyncedAt   *int64 `json:"last_synced_at,omitempty" db:"last_synced_at"`
	LastOutcomeID  string `json:"last_outcome_id,omitempty" db:"last_outcome_id"`
}

type Operator struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name" validate:"required"`
	Email        string `json:"email" db:"email" validate:"required,email"`
	Updated      int64  `json:"updated" db:"updated"`
	PasswordHash string `json:"password_hash,omitempty" db:"password_hash"`
}

type BackgroundJob struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	NextTryAt   *time.Time      `json:"next_try_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}
