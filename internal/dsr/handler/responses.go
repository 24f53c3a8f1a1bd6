package handler

import (
	"time"

	"privacyhub/internal/dsr/models"
	"privacyhub/internal/dsr/service"
)

type SubmitResponse struct {
	Success       bool      `json:"success"`
	RequestID     string    `json:"request_id"`
	TrackingToken string    `json:"tracking_token"`
	Status        string    `json:"status"`
	DueDate       time.Time `json:"due_date"`
}

type VerifyResponse struct {
	RequestID string `json:"request_id"`
}

// StatusResponse is the requester-facing view behind a tracking token.
type StatusResponse struct {
	Status      string     `json:"status"`
	RequestType string     `json:"request_type"`
	Regulation  string     `json:"regulation"`
	SubmittedAt time.Time  `json:"submitted_at"`
	DueDate     time.Time  `json:"due_date"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	NextSteps   string     `json:"next_steps"`
}

func toStatusResponse(v *models.StatusView) StatusResponse {
	return StatusResponse{
		Status:      string(v.Status),
		RequestType: string(v.RequestType),
		Regulation:  string(v.Regulation),
		SubmittedAt: v.SubmittedAt,
		DueDate:     v.DueDate,
		CompletedAt: v.CompletedAt,
		NextSteps:   v.NextSteps,
	}
}

// RequestResponse is the operator view of a request. Verification state is
// reduced to timestamps; the digest never leaves the store.
type RequestResponse struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email"`
	Name                   string     `json:"name"`
	UserID                 string     `json:"user_id,omitempty"`
	RequestType            string     `json:"request_type"`
	Regulation             string     `json:"regulation"`
	Details                string     `json:"details,omitempty"`
	IdentityDocumentRef    string     `json:"identity_document_ref,omitempty"`
	Status                 string     `json:"status"`
	SubmittedAt            time.Time  `json:"submitted_at"`
	DueDate                time.Time  `json:"due_date"`
	Overdue                bool       `json:"overdue"`
	VerifiedAt             *time.Time `json:"verified_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	ExportRef              string     `json:"export_ref,omitempty"`
	AnonymizationConfirmed bool       `json:"anonymization_confirmed"`
	ResolutionNotes        string     `json:"resolution_notes,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func toRequestResponse(r *models.Request) RequestResponse {
	return RequestResponse{
		ID:                     r.ID.String(),
		Email:                  r.Email,
		Name:                   r.Name,
		UserID:                 r.UserID,
		RequestType:            string(r.RequestType),
		Regulation:             string(r.Regulation),
		Details:                r.Details,
		IdentityDocumentRef:    r.IdentityDocumentRef,
		Status:                 string(r.Status),
		SubmittedAt:            r.SubmittedAt,
		DueDate:                r.DueDate,
		Overdue:                r.IsOverdue(time.Now()),
		VerifiedAt:             r.VerifiedAt,
		CompletedAt:            r.CompletedAt,
		ExportRef:              r.ExportRef,
		AnonymizationConfirmed: r.AnonymizationConfirmed,
		ResolutionNotes:        r.ResolutionNotes,
		UpdatedAt:              r.UpdatedAt,
	}
}

type EventResponse struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type DetailResponse struct {
	Request RequestResponse `json:"request"`
	Events  []EventResponse `json:"events"`
}

func toDetailResponse(d *service.Detail) DetailResponse {
	events := make([]EventResponse, 0, len(d.Events))
	for _, ev := range d.Events {
		events = append(events, EventResponse{
			From:      string(ev.From),
			To:        string(ev.To),
			Actor:     ev.Actor,
			Reason:    ev.Reason,
			CreatedAt: ev.CreatedAt,
		})
	}
	return DetailResponse{Request: toRequestResponse(d.Request), Events: events}
}

type ListResponse struct {
	Requests []RequestResponse `json:"requests"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}
