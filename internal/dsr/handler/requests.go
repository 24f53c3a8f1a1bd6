package handler

import (
	"net/url"
	"strconv"
	"strings"

	"privacyhub/internal/dsr/models"
	"privacyhub/internal/dsr/service"
	dErrors "privacyhub/pkg/domain-errors"
	s "privacyhub/pkg/string"
)

// SubmitRequest is the public intake form.
type SubmitRequest struct {
	Email               string `json:"email"`
	Name                string `json:"name"`
	RequestType         string `json:"request_type"`
	Regulation          string `json:"regulation"`
	Details             string `json:"details"`
	UserID              string `json:"user_id"`
	IdentityDocumentRef string `json:"identity_document_ref"`
	Attestation         bool   `json:"attestation"`
}

func (r *SubmitRequest) Sanitize() {
	s.TrimStrings(&r.Email, &r.Name, &r.RequestType, &r.Regulation, &r.Details, &r.UserID, &r.IdentityDocumentRef)
}

func (r *SubmitRequest) toInput(client service.ClientMeta) service.SubmitInput {
	return service.SubmitInput{
		Email:               r.Email,
		Name:                r.Name,
		RequestType:         models.RequestType(r.RequestType),
		Regulation:          r.Regulation,
		Details:             r.Details,
		UserID:              r.UserID,
		IdentityDocumentRef: r.IdentityDocumentRef,
		Attestation:         r.Attestation,
		Client:              client,
	}
}

type ResendRequest struct {
	TrackingToken string `json:"tracking_token" validate:"required,max=2048"`
}

func (r *ResendRequest) Sanitize() {
	s.TrimStrings(&r.TrackingToken)
}

type CompleteRequest struct {
	ExportRef              string `json:"export_ref" validate:"max=1024"`
	AnonymizationConfirmed bool   `json:"anonymization_confirmed"`
	Notes                  string `json:"notes" validate:"max=5000"`
}

func (r *CompleteRequest) Sanitize() {
	s.TrimStrings(&r.ExportRef, &r.Notes)
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required,notblank,max=5000"`
}

func (r *RejectRequest) Sanitize() {
	s.TrimStrings(&r.Reason)
}

// RecomputeRequest optionally moves the request to another regulation.
// An empty regulation keeps the current one.
type RecomputeRequest struct {
	Regulation string `json:"regulation" validate:"max=16"`
}

func (r *RecomputeRequest) Sanitize() {
	s.TrimStrings(&r.Regulation)
}

// ThrottleResetRequest names the submitter whose throttle an operator lifts.
type ThrottleResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (r *ThrottleResetRequest) Sanitize() {
	s.TrimStrings(&r.Email)
}

func (r *ThrottleResetRequest) Normalize() {
	r.Email = strings.ToLower(r.Email)
}

// parseListFilter reads status, overdue, limit and offset from the query string.
func parseListFilter(q url.Values) (models.ListFilter, error) {
	var filter models.ListFilter
	filter.Status = models.Status(strings.ToLower(strings.TrimSpace(q.Get("status"))))

	if raw := q.Get("overdue"); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid overdue flag")
		}
		filter.Overdue = overdue
	}

	var err error
	if filter.Limit, err = parseInt(q.Get("limit")); err != nil {
		return filter, dErrors.New(dErrors.CodeValidation, "invalid limit")
	}
	if filter.Offset, err = parseInt(q.Get("offset")); err != nil {
		return filter, dErrors.New(dErrors.CodeValidation, "invalid offset")
	}
	return filter, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "must be a non-negative integer")
	}
	return n, nil
}
