package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	consentmodels "privacyhub/internal/consent/models"
	dsrmodels "privacyhub/internal/dsr/models"
)

// FixedTime is a deterministic instant for tests that do not care about the clock.
var FixedTime = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

// RequestBuilder provides a fluent interface for building data subject requests.
// Build goes through dsrmodels.NewRequest so the due date is always SLA-derived.
type RequestBuilder struct {
	params      dsrmodels.NewRequestParams
	submittedAt time.Time
	sla         dsrmodels.SLATable
}

// NewRequestBuilder creates a GDPR access request with a unique digest.
func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{
		params: dsrmodels.NewRequestParams{
			Email:            "a@b.com",
			Name:             "Ada",
			RequestType:      dsrmodels.TypeAccess,
			Regulation:       dsrmodels.RegulationGDPR,
			VerificationHash: uuid.NewString(),
			VerificationTTL:  48 * time.Hour,
		},
		submittedAt: FixedTime,
		sla:         dsrmodels.DefaultSLA(),
	}
}

func (b *RequestBuilder) WithEmail(email string) *RequestBuilder {
	b.params.Email = email
	return b
}

func (b *RequestBuilder) WithType(t dsrmodels.RequestType) *RequestBuilder {
	b.params.RequestType = t
	return b
}

func (b *RequestBuilder) WithRegulation(reg dsrmodels.Regulation) *RequestBuilder {
	b.params.Regulation = reg
	return b
}

func (b *RequestBuilder) WithVerificationHash(hash string) *RequestBuilder {
	b.params.VerificationHash = hash
	return b
}

func (b *RequestBuilder) WithVerificationTTL(ttl time.Duration) *RequestBuilder {
	b.params.VerificationTTL = ttl
	return b
}

func (b *RequestBuilder) SubmittedAt(t time.Time) *RequestBuilder {
	b.submittedAt = t
	return b
}

// Build panics on invalid parameters; fixtures are programmer input.
func (b *RequestBuilder) Build() *dsrmodels.Request {
	req, _, err := dsrmodels.NewRequest(b.params, b.sla, b.submittedAt)
	if err != nil {
		panic(fmt.Sprintf("testutil: invalid request fixture: %v", err))
	}
	return req
}

// RecordBuilder provides a fluent interface for building consent records.
type RecordBuilder struct {
	key           consentmodels.SubjectKey
	categories    consentmodels.Categories
	region        string
	bannerVersion string
	method        consentmodels.Method
	at            time.Time
}

// NewRecordBuilder creates a customized decision for a fresh session.
func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{
		key:           consentmodels.SubjectKey("session:" + uuid.NewString()),
		categories:    consentmodels.Categories{},
		region:        "EU",
		bannerVersion: "v1",
		method:        consentmodels.MethodCustomize,
		at:            FixedTime,
	}
}

func (b *RecordBuilder) WithSubject(key consentmodels.SubjectKey) *RecordBuilder {
	b.key = key
	return b
}

// Granting marks each category granted.
func (b *RecordBuilder) Granting(cats ...consentmodels.Category) *RecordBuilder {
	for _, c := range cats {
		b.categories[c] = true
	}
	return b
}

func (b *RecordBuilder) WithCategories(cats consentmodels.Categories) *RecordBuilder {
	b.categories = cats.Clone()
	return b
}

func (b *RecordBuilder) WithMethod(m consentmodels.Method) *RecordBuilder {
	b.method = m
	return b
}

func (b *RecordBuilder) At(t time.Time) *RecordBuilder {
	b.at = t
	return b
}

// Build panics on invalid parameters; fixtures are programmer input.
func (b *RecordBuilder) Build() *consentmodels.Record {
	rec, err := consentmodels.NewRecord(b.key, b.categories, b.region, b.bannerVersion, b.method, b.at)
	if err != nil {
		panic(fmt.Sprintf("testutil: invalid consent fixture: %v", err))
	}
	return rec
}
