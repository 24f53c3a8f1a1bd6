package handler

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"privacyhub/internal/consent/models"
	dErrors "privacyhub/pkg/domain-errors"
)

// subjectFromQuery reads user_id or session_id from the query string.
func subjectFromQuery(q url.Values) (models.SubjectKey, error) {
	return models.NewSubjectKey(q.Get("user_id"), q.Get("session_id"))
}

// parseLogFilter converts query parameters into a LogFilter. Dates may be RFC 3339
// timestamps or plain YYYY-MM-DD days; a plain "to" day includes the whole day.
func parseLogFilter(q url.Values) (models.LogFilter, error) {
	var filter models.LogFilter

	if q.Get("user_id") != "" || q.Get("session_id") != "" {
		key, err := subjectFromQuery(q)
		if err != nil {
			return filter, err
		}
		filter.SubjectKey = key
	}
	filter.Purpose = strings.TrimSpace(q.Get("purpose"))
	filter.Action = models.Action(strings.TrimSpace(q.Get("action")))

	if raw := q.Get("from"); raw != "" {
		from, _, err := parseDate(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid from date")
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, dayOnly, err := parseDate(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid to date")
		}
		if dayOnly {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		filter.To = &to
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

func parseDate(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	return t, true, err
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
