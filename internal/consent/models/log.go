package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Action is the kind of change a LogEntry records.
type Action string

const (
	ActionGrant    Action = "grant"
	ActionWithdraw Action = "withdraw"
	ActionUpdate   Action = "update"
	ActionImport   Action = "import"
	ActionExport   Action = "export"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionGrant, ActionWithdraw, ActionUpdate, ActionImport, ActionExport:
		return true
	}
	return false
}

// State is the per-purpose value captured in a log entry.
type State string

const (
	StateGranted State = "granted"
	StateDenied  State = "denied"
	StateUnset   State = "unset"
)

func StateOf(granted bool) State {
	if granted {
		return StateGranted
	}
	return StateDenied
}

// PurposeAll marks entries that describe the record as a whole.
const PurposeAll = "all"

// LogEntry is an append-only audit row. Entries are never updated or deleted.
type LogEntry struct {
	ID            string
	SubjectKey    SubjectKey
	Purpose       string
	Action        Action
	Method        Method
	PreviousState string
	NewState      string
	IPAddressHash string
	UserAgent     string
	Region        string
	BannerVersion string
	CreatedAt     time.Time
}

// Meta carries request attributes stamped onto every entry of one decision.
type Meta struct {
	IPAddressHash string
	UserAgent     string
}

// NewLogID returns a time-ordered identifier so entries sort by creation.
func NewLogID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// DiffLog returns the entries describing the move from prev (nil for a first decision)
// to next: one per changed category, or one purpose="all" update when only region or
// banner version moved. An unchanged re-save produces no entries.
func DiffLog(prev *Record, next *Record, meta Meta) []*LogEntry {
	var prevCats Categories
	if prev != nil {
		prevCats = prev.Categories
	}

	var entries []*LogEntry
	add := func(purpose string, action Action, from, to string) {
		if next.Method == MethodImport {
			action = ActionImport
		}
		entries = append(entries, &LogEntry{
			ID:            NewLogID(next.UpdatedAt),
			SubjectKey:    next.SubjectKey,
			Purpose:       purpose,
			Action:        action,
			Method:        next.Method,
			PreviousState: from,
			NewState:      to,
			IPAddressHash: meta.IPAddressHash,
			UserAgent:     meta.UserAgent,
			Region:        next.Region,
			BannerVersion: next.BannerVersion,
			CreatedAt:     next.UpdatedAt,
		})
	}

	for _, cat := range next.Categories.Sorted() {
		granted := next.Categories[cat]
		before, had := prevCats[cat]
		if had && before == granted {
			continue
		}
		from := string(StateUnset)
		if had {
			from = string(StateOf(before))
		}
		action := ActionWithdraw
		if granted {
			action = ActionGrant
		}
		add(string(cat), action, from, string(StateOf(granted)))
	}
	for _, cat := range prevCats.Sorted() {
		if _, still := next.Categories[cat]; still {
			continue
		}
		add(string(cat), ActionUpdate, string(StateOf(prevCats[cat])), string(StateUnset))
	}

	if len(entries) == 0 && prev != nil &&
		(prev.Region != next.Region || prev.BannerVersion != next.BannerVersion) {
		add(PurposeAll, ActionUpdate, prev.Region+"/"+prev.BannerVersion, next.Region+"/"+next.BannerVersion)
	}
	return entries
}

// ExportEntry records that a subject's consent data was exported.
func ExportEntry(rec *Record, meta Meta, now time.Time) *LogEntry {
	snapshot := rec.Categories.Encode()
	return &LogEntry{
		ID:            NewLogID(now),
		SubjectKey:    rec.SubjectKey,
		Purpose:       PurposeAll,
		Action:        ActionExport,
		Method:        rec.Method,
		PreviousState: snapshot,
		NewState:      snapshot,
		IPAddressHash: meta.IPAddressHash,
		UserAgent:     meta.UserAgent,
		Region:        rec.Region,
		BannerVersion: rec.BannerVersion,
		CreatedAt:     now,
	}
}

// LogFilter narrows a log listing. Zero values match everything.
type LogFilter struct {
	SubjectKey SubjectKey
	Purpose    string
	Action     Action
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

// Normalize clamps paging values into range.
func (f LogFilter) Normalize() LogFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLogLimit
	}
	if f.Limit > MaxLogLimit {
		f.Limit = MaxLogLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether e passes the filter (paging ignored).
func (f LogFilter) Matches(e *LogEntry) bool {
	if f.SubjectKey != "" && e.SubjectKey != f.SubjectKey {
		return false
	}
	if f.Purpose != "" && e.Purpose != f.Purpose {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// LogPage is one page of log entries, newest first.
type LogPage struct {
	Entries []*LogEntry
	Total   int
	Limit   int
	Offset  int
}
