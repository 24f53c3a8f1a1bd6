package models

import (
	"strings"

	dErrors "privacyhub/pkg/domain-errors"
)

// SubjectKey identifies whose consent a record holds: "user:<id>" or "session:<id>".
type SubjectKey string

const (
	userPrefix    = "user:"
	sessionPrefix = "session:"
	maxSubjectID  = 191
)

// NewSubjectKey builds a key from exactly one of userID or sessionID.
func NewSubjectKey(userID, sessionID string) (SubjectKey, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	switch {
	case userID != "" && sessionID != "":
		return "", dErrors.New(dErrors.CodeValidation, "provide either user_id or session_id, not both")
	case userID != "":
		return checked(userPrefix + userID)
	case sessionID != "":
		return checked(sessionPrefix + sessionID)
	default:
		return "", dErrors.New(dErrors.CodeValidation, "user_id or session_id is required")
	}
}

// ParseSubjectKey accepts an already prefixed key, e.g. read back from storage.
func ParseSubjectKey(raw string) (SubjectKey, error) {
	return checked(strings.TrimSpace(raw))
}

func checked(raw string) (SubjectKey, error) {
	k := SubjectKey(raw)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func (k SubjectKey) Validate() error {
	id := k.ID()
	if id == "" {
		return dErrors.New(dErrors.CodeValidation, "invalid subject key")
	}
	if len(id) > maxSubjectID {
		return dErrors.New(dErrors.CodeValidation, "subject id too long")
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return dErrors.New(dErrors.CodeValidation, "subject id must not contain whitespace")
	}
	return nil
}

// Kind returns "user", "session" or "" for a malformed key.
func (k SubjectKey) Kind() string {
	switch {
	case strings.HasPrefix(string(k), userPrefix):
		return "user"
	case strings.HasPrefix(string(k), sessionPrefix):
		return "session"
	}
	return ""
}

// ID returns the identifier without its prefix.
func (k SubjectKey) ID() string {
	s := string(k)
	if rest, ok := strings.CutPrefix(s, userPrefix); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(s, sessionPrefix); ok {
		return rest
	}
	return ""
}

func (k SubjectKey) String() string { return string(k) }
