package handler

import (
	"time"

	"privacyhub/internal/consent/models"
	"privacyhub/internal/consent/service"
)

type RecordResponse struct {
	SubjectKey    string          `json:"subject_key"`
	Categories    map[string]bool `json:"categories"`
	Region        string          `json:"region,omitempty"`
	BannerVersion string          `json:"banner_version,omitempty"`
	Method        string          `json:"method"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type CheckResponse struct {
	SubjectKey    string          `json:"subject_key"`
	Categories    map[string]bool `json:"categories"`
	Found         bool            `json:"found"`
	BannerVersion string          `json:"banner_version,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

type LogEntryResponse struct {
	ID            string    `json:"id"`
	SubjectKey    string    `json:"subject_key"`
	Purpose       string    `json:"purpose"`
	Action        string    `json:"action"`
	Method        string    `json:"method"`
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	IPAddressHash string    `json:"ip_address_hash,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type LogPageResponse struct {
	Entries []LogEntryResponse `json:"entries"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

type ExportResponse struct {
	Record  RecordResponse     `json:"record"`
	History []LogEntryResponse `json:"history"`
}

type ImportResponse struct {
	Imported int               `json:"imported"`
	Failed   map[string]string `json:"failed"`
}

func toRecordResponse(rec *models.Record) RecordResponse {
	return RecordResponse{
		SubjectKey:    rec.SubjectKey.String(),
		Categories:    fromCategories(rec.Categories),
		Region:        rec.Region,
		BannerVersion: rec.BannerVersion,
		Method:        string(rec.Method),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func toCheckResponse(res *service.CheckResult) CheckResponse {
	return CheckResponse{
		SubjectKey:    res.SubjectKey.String(),
		Categories:    fromCategories(res.Categories),
		Found:         res.Found,
		BannerVersion: res.BannerVersion,
		UpdatedAt:     res.UpdatedAt,
	}
}

func toLogEntries(entries []*models.LogEntry) []LogEntryResponse {
	out := make([]LogEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogEntryResponse{
			ID:            e.ID,
			SubjectKey:    e.SubjectKey.String(),
			Purpose:       e.Purpose,
			Action:        string(e.Action),
			Method:        string(e.Method),
			PreviousState: e.PreviousState,
			NewState:      e.NewState,
			IPAddressHash: e.IPAddressHash,
			UserAgent:     e.UserAgent,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}

func fromCategories(cats models.Categories) map[string]bool {
	out := make(map[string]bool, len(cats))
	for c, v := range cats {
		out[string(c)] = v
	}
	return out
}
