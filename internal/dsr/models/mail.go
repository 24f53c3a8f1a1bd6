package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationMail asks the subject to confirm a request. VerifyURL carries the
// only copy of the verification token.
type VerificationMail struct {
	RequestID     uuid.UUID
	To            string
	Name          string
	RequestType   RequestType
	VerifyURL     string
	TrackingToken string
	ExpiresAt     time.Time
}

// StatusMail tells the subject their request was closed.
type StatusMail struct {
	RequestID   uuid.UUID
	To          string
	Name        string
	RequestType RequestType
	Status      Status
	NextSteps   string
	Reason      string
}
