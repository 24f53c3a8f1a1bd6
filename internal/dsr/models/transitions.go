package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "privacyhub/pkg/domain-errors"
)

// transitions is the complete lifecycle table. rejected is reachable from every
// non-terminal status.
var transitions = map[Status][]Status{
	StatusNew:                 {StatusPendingVerification, StatusVerified, StatusRejected},
	StatusPendingVerification: {StatusVerified, StatusRejected},
	StatusVerified:            {StatusInProgress, StatusRejected},
	StatusInProgress:          {StatusCompleted, StatusRejected},
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (r *Request) transition(to Status, actor, reason string, now time.Time) (*Event, error) {
	if !CanTransition(r.Status, to) {
		return nil, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move request from %s to %s", r.Status, to))
	}
	from := r.Status
	r.Status = to
	r.UpdatedAt = now
	return newEvent(r.ID, from, to, actor, reason, now), nil
}

// HoldForVerification moves a new request to pending_verification once the
// verification email is out. Used when manual review is configured.
func (r *Request) HoldForVerification(now time.Time) (*Event, error) {
	return r.transition(StatusPendingVerification, ActorSystem, "", now)
}

// RedeemVerification consumes the verification token and marks the request verified.
// Callers must hold the row lock; an already consumed, expired or closed request
// returns CodeInvalidToken.
func (r *Request) RedeemVerification(now time.Time) (*Event, error) {
	if !r.TokenRedeemable(now) {
		return nil, dErrors.New(dErrors.CodeInvalidToken, InvalidTokenMessage)
	}
	ev, err := r.transition(StatusVerified, ActorSubject, "", now)
	if err != nil {
		return nil, err
	}
	consumed := now
	r.VerificationConsumedAt = &consumed
	r.VerifiedAt = &consumed
	return ev, nil
}

// ReissueVerification replaces the verification digest and its expiry.
func (r *Request) ReissueVerification(hash string, ttl time.Duration, now time.Time) error {
	if !r.Status.AwaitsVerification() || r.VerificationConsumedAt != nil {
		return dErrors.New(dErrors.CodeInvalidTransition, "request is no longer awaiting verification")
	}
	r.VerificationHash = hash
	r.VerificationExpiresAt = now.Add(ttl)
	r.UpdatedAt = now
	return nil
}

func (r *Request) StartProcessing(actor string, now time.Time) (*Event, error) {
	return r.transition(StatusInProgress, actor, "", now)
}

// Completion is what an operator attaches when closing a request.
type Completion struct {
	ExportRef              string
	AnonymizationConfirmed bool
	Notes                  string
}

// Complete closes an in-progress request. Access and portability requests need an
// export reference and erasure needs an anonymization confirmation.
func (r *Request) Complete(actor string, c Completion, now time.Time) (*Event, error) {
	exportRef := strings.TrimSpace(c.ExportRef)
	if r.RequestType.RequiresExport() && exportRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s requests require an export reference", r.RequestType))
	}
	if r.RequestType.RequiresAnonymization() && !c.AnonymizationConfirmed {
		return nil, dErrors.New(dErrors.CodeValidation, "erasure requests require anonymization confirmation")
	}
	ev, err := r.transition(StatusCompleted, actor, strings.TrimSpace(c.Notes), now)
	if err != nil {
		return nil, err
	}
	completed := now
	r.CompletedAt = &completed
	r.ExportRef = exportRef
	r.AnonymizationConfirmed = c.AnonymizationConfirmed
	r.ResolutionNotes = strings.TrimSpace(c.Notes)
	return ev, nil
}

// Reject closes a non-terminal request. A reason is mandatory.
func (r *Request) Reject(actor, reason string, now time.Time) (*Event, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a rejection reason is required")
	}
	ev, err := r.transition(StatusRejected, actor, reason, now)
	if err != nil {
		return nil, err
	}
	r.ResolutionNotes = reason
	return ev, nil
}

// RecomputeDueDate re-derives the due date from the original submission time under
// reg. It is the only way the due date changes after submission.
func (r *Request) RecomputeDueDate(reg Regulation, sla SLATable, actor string, now time.Time) (*Event, error) {
	if r.Status.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, fmt.Sprintf("cannot recompute the due date of a %s request", r.Status))
	}
	due, err := sla.DueDate(r.SubmittedAt, reg)
	if err != nil {
		return nil, err
	}
	reason := fmt.Sprintf("regulation %s -> %s, due %s", r.Regulation, reg, due.UTC().Format(time.DateOnly))
	r.Regulation = reg
	r.DueDate = due
	r.UpdatedAt = now
	return newEvent(r.ID, r.Status, r.Status, actor, reason, now), nil
}
