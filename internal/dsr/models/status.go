package models

import "time"

// Messages shared by every failure of a kind, so responses never reveal whether
// a token or request exists.
const (
	InvalidTokenMessage = "invalid or expired verification link"
	NotFoundMessage     = "request not found"
)

// StatusView is what a requester sees through the tracking token.
type StatusView struct {
	Status      Status
	RequestType RequestType
	Regulation  Regulation
	SubmittedAt time.Time
	DueDate     time.Time
	CompletedAt *time.Time
	NextSteps   string
}

// ViewOf projects a request onto the requester-facing view.
func ViewOf(r *Request) *StatusView {
	return &StatusView{
		Status:      r.Status,
		RequestType: r.RequestType,
		Regulation:  r.Regulation,
		SubmittedAt: r.SubmittedAt,
		DueDate:     r.DueDate,
		CompletedAt: r.CompletedAt,
		NextSteps:   NextSteps(r.Status, r.RequestType),
	}
}

// processingSteps describes in_progress per request type.
var processingSteps = map[RequestType]string{
	TypeAccess:            "We are preparing an export of your personal data.",
	TypeRectification:     "We are correcting the personal data you identified.",
	TypeErasure:           "We are erasing or anonymizing your personal data.",
	TypePortability:       "We are preparing a machine-readable export of your data.",
	TypeRestriction:       "We are restricting the processing of your personal data.",
	TypeObject:            "We are reviewing your objection to the processing of your data.",
	TypeAutomatedDecision: "We are arranging a human review of the automated decision.",
}

// completedSteps describes completed per request type.
var completedSteps = map[RequestType]string{
	TypeAccess:            "Your data export is ready. Check your email for download instructions.",
	TypeRectification:     "Your personal data has been corrected.",
	TypeErasure:           "Your personal data has been erased or anonymized.",
	TypePortability:       "Your portable data export is ready. Check your email for download instructions.",
	TypeRestriction:       "Processing of your personal data has been restricted.",
	TypeObject:            "Your objection has been processed.",
	TypeAutomatedDecision: "The automated decision has been reviewed by a person.",
}

// NextSteps is the requester-facing explanation for a status. It is defined for
// every (status, type) pair.
func NextSteps(status Status, t RequestType) string {
	switch status {
	case StatusNew:
		return "Please confirm your request using the verification link we emailed you."
	case StatusPendingVerification:
		return "Your email is being confirmed. Use the verification link we sent to continue."
	case StatusVerified:
		return "Your request is verified and waiting to be processed."
	case StatusInProgress:
		if msg, ok := processingSteps[t]; ok {
			return msg
		}
		return "Your request is being processed."
	case StatusCompleted:
		if msg, ok := completedSteps[t]; ok {
			return msg
		}
		return "Your request has been completed."
	case StatusRejected:
		return "Your request could not be fulfilled. Check your email for the reason."
	}
	return "Your request is being handled."
}
