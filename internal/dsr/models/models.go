// Package models defines data subject requests, their lifecycle table and SLA rules.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "privacyhub/pkg/domain-errors"
)

// RequestType is the privacy right a request exercises.
type RequestType string

const (
	TypeAccess            RequestType = "access"
	TypeRectification     RequestType = "rectification"
	TypeErasure           RequestType = "erasure"
	TypePortability       RequestType = "portability"
	TypeRestriction       RequestType = "restriction"
	TypeObject            RequestType = "object"
	TypeAutomatedDecision RequestType = "automated_decision"
)

// RequestTypes lists every request type in a stable order.
var RequestTypes = []RequestType{
	TypeAccess, TypeRectification, TypeErasure, TypePortability,
	TypeRestriction, TypeObject, TypeAutomatedDecision,
}

func (t RequestType) IsValid() bool {
	switch t {
	case TypeAccess, TypeRectification, TypeErasure, TypePortability,
		TypeRestriction, TypeObject, TypeAutomatedDecision:
		return true
	}
	return false
}

// RequiresExport reports whether completion must reference an export artifact.
func (t RequestType) RequiresExport() bool {
	return t == TypeAccess || t == TypePortability
}

// RequiresAnonymization reports whether completion must confirm anonymization.
func (t RequestType) RequiresAnonymization() bool {
	return t == TypeErasure
}

// Regulation is the legal regime a request is filed under.
type Regulation string

const (
	RegulationGDPR   Regulation = "GDPR"
	RegulationCCPA   Regulation = "CCPA"
	RegulationLGPD   Regulation = "LGPD"
	RegulationUKGDPR Regulation = "UK-GDPR"
	RegulationPIPEDA Regulation = "PIPEDA"
	RegulationPOPIA  Regulation = "POPIA"
)

// ParseRegulation upper-cases s and defaults an empty value to GDPR. It does not
// check s against the SLA table; DueDate does that.
func ParseRegulation(s string) Regulation {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return RegulationGDPR
	}
	return Regulation(s)
}

// Status is a lifecycle state.
type Status string

const (
	StatusNew                 Status = "new"
	StatusPendingVerification Status = "pending_verification"
	StatusVerified            Status = "verified"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusRejected            Status = "rejected"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusPendingVerification, StatusVerified, StatusInProgress, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// AwaitsVerification reports whether the verification token may still be redeemed or re-issued.
func (s Status) AwaitsVerification() bool {
	return s == StatusNew || s == StatusPendingVerification
}

// Actors recorded on lifecycle events. Operators are recorded by their own ID.
const (
	ActorSubject = "subject"
	ActorSystem  = "system"
)

// Request is a data subject request. The verification token itself is never
// held, only its digest.
type Request struct {
	ID                     uuid.UUID
	Email                  string
	Name                   string
	UserID                 string
	RequestType            RequestType
	Regulation             Regulation
	Details                string
	IdentityDocumentRef    string
	Status                 Status
	VerificationHash       string
	VerificationExpiresAt  time.Time
	VerificationConsumedAt *time.Time
	SubmittedAt            time.Time
	DueDate                time.Time
	VerifiedAt             *time.Time
	CompletedAt            *time.Time
	ExportRef              string
	AnonymizationConfirmed bool
	ResolutionNotes        string
	IPAddressHash          string
	UpdatedAt              time.Time
}

// IsOverdue reports whether an open request has passed its due date.
func (r *Request) IsOverdue(now time.Time) bool {
	return !r.Status.IsTerminal() && now.After(r.DueDate)
}

// TokenRedeemable reports whether the verification token can be redeemed at now.
func (r *Request) TokenRedeemable(now time.Time) bool {
	return r.VerificationConsumedAt == nil &&
		r.Status.AwaitsVerification() &&
		now.Before(r.VerificationExpiresAt)
}

// Event is one entry of a request's audit trail. From is empty for the submission.
type Event struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	From      Status
	To        Status
	Actor     string
	Reason    string
	CreatedAt time.Time
}

func newEvent(requestID uuid.UUID, from, to Status, actor, reason string, now time.Time) *Event {
	return &Event{
		ID:        uuid.New(),
		RequestID: requestID,
		From:      from,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: now,
	}
}

// NewRequestParams are the validated inputs for a new request.
type NewRequestParams struct {
	Email               string
	Name                string
	UserID              string
	RequestType         RequestType
	Regulation          Regulation
	Details             string
	IdentityDocumentRef string
	IPAddressHash       string
	VerificationHash    string
	VerificationTTL     time.Duration
}

// NewRequest builds a request in status new with its due date fixed from the SLA
// table, and returns it with its submission event.
func NewRequest(p NewRequestParams, sla SLATable, now time.Time) (*Request, *Event, error) {
	if !p.RequestType.IsValid() {
		return nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid request type %q", p.RequestType))
	}
	if p.VerificationHash == "" {
		return nil, nil, dErrors.New(dErrors.CodeInvariantViolation, "verification digest is required")
	}
	due, err := sla.DueDate(now, p.Regulation)
	if err != nil {
		return nil, nil, err
	}
	req := &Request{
		ID:                    uuid.New(),
		Email:                 p.Email,
		Name:                  p.Name,
		UserID:                p.UserID,
		RequestType:           p.RequestType,
		Regulation:            p.Regulation,
		Details:               p.Details,
		IdentityDocumentRef:   p.IdentityDocumentRef,
		Status:                StatusNew,
		VerificationHash:      p.VerificationHash,
		VerificationExpiresAt: now.Add(p.VerificationTTL),
		SubmittedAt:           now,
		DueDate:               due,
		IPAddressHash:         p.IPAddressHash,
		UpdatedAt:             now,
	}
	return req, newEvent(req.ID, "", StatusNew, ActorSubject, "", now), nil
}

// ListFilter selects requests for the operator queue.
type ListFilter struct {
	Status  Status
	Overdue bool
	Now     time.Time
	Limit   int
	Offset  int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Normalize clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches applies the filter to one request. Stores without a query language use it.
func (f ListFilter) Matches(r *Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Overdue && !r.IsOverdue(f.Now) {
		return false
	}
	return true
}
