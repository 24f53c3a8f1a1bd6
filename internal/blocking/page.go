package blocking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"privacyhub/internal/consent/models"
)

// ErrBlocked is returned to the host for a network request it must reject.
var ErrBlocked = errors.New("blocked pending consent")

// Executor carries out replays in the host runtime.
type Executor interface {
	// Reinject re-issues a request or inserts a fresh copy of a script.
	Reinject(ctx context.Context, act Activity) error
	// RestoreSource puts the cached src back on an iframe.
	RestoreSource(ctx context.Context, act Activity) error
	// Placeholder renders a stand-in for content a placeholder rule suppressed.
	Placeholder(ctx context.Context, act Activity, rule Rule) error
}

// Interceptor is implemented by host runtimes that observe outbound activity,
// such as a DOM mutation observer or a request proxy.
type Interceptor interface {
	Subscribe(hook func(ctx context.Context, act Activity) (Decision, error)) (unsubscribe func())
}

// QueuedActivity is a suppressed activity waiting for its categories.
type QueuedActivity struct {
	ID       string
	Activity Activity
	// Category is the denied category that blocked the activity.
	Category models.Category
	// Categories must all be granted before the activity is released.
	Categories []models.Category
	RuleID     string
	QueuedAt   time.Time
}

func (q *QueuedActivity) releasable(consent models.Categories) bool {
	for _, cat := range q.Categories {
		if !consent.Granted(cat) {
			return false
		}
	}
	return true
}

// Page is the consent context of one page or session: current consent, the replay
// queue, and the executor that performs replays. Pages share an Engine.
type Page struct {
	engine   *Engine
	executor Executor

	mu      sync.Mutex
	consent models.Categories
	queue   []*QueuedActivity
	now     func() time.Time
}

// NewPage starts a page with the given consent. nil means nothing but necessary.
func NewPage(engine *Engine, executor Executor, consent models.Categories) *Page {
	return &Page{
		engine:   engine,
		executor: executor,
		consent:  consent.Clone(),
		now:      time.Now,
	}
}

// Attach subscribes the page to an interceptor.
func (p *Page) Attach(in Interceptor) (unsubscribe func()) {
	return in.Subscribe(p.Intercept)
}

// Intercept evaluates act against the current consent. Suppressed activity is
// queued; network requests additionally return ErrBlocked.
func (p *Page) Intercept(ctx context.Context, act Activity) (Decision, error) {
	p.mu.Lock()
	d := p.engine.Evaluate(act, p.consent)
	if d.Allowed {
		p.mu.Unlock()
		return d, nil
	}
	entry := &QueuedActivity{
		ID:         uuid.NewString(),
		Activity:   act,
		Category:   d.Category,
		Categories: slices.Clone(d.Categories),
		QueuedAt:   p.now(),
	}
	if d.Rule != nil {
		entry.RuleID = d.Rule.ID
	}
	p.queue = append(p.queue, entry)
	p.mu.Unlock()

	d.QueueID = entry.ID
	if m := p.engine.metrics; m != nil {
		m.IncBlocked(string(d.Category))
		m.AddQueued(1)
	}
	p.engine.logger.DebugContext(ctx, "activity blocked pending consent",
		"kind", act.Kind,
		"category", d.Category,
		"rule_id", entry.RuleID,
	)

	if d.Rule != nil && d.Rule.Action == ActionPlaceholder && p.executor != nil {
		if err := p.executor.Placeholder(ctx, act, *d.Rule); err != nil {
			p.engine.logger.WarnContext(ctx, "placeholder render failed", "rule_id", d.Rule.ID, "error", err)
		}
	}
	if act.Kind.IsNetwork() {
		return d, ErrBlocked
	}
	return d, nil
}

// Consent returns a copy of the page's current consent.
func (p *Page) Consent() models.Categories {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consent.Clone()
}

// Pending returns queued activity in queue order.
func (p *Page) Pending() []QueuedActivity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]QueuedActivity, 0, len(p.queue))
	for _, e := range p.queue {
		q := *e
		q.Categories = slices.Clone(e.Categories)
		out = append(out, q)
	}
	return out
}

// discard empties the queue without replaying it and returns how many entries
// were dropped.
func (p *Page) discard() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	p.queue = nil
	return n
}

// ReplayResult reports what a consent change released.
type ReplayResult struct {
	Released []QueuedActivity
	Failed   map[string]error
}

// OnConsentChange records consent and releases every queued activity whose
// categories are now all granted, in the order it was queued. Entries leave the
// queue before they run, so each is replayed at most once. An entry with any
// category still denied stays queued.
func (p *Page) OnConsentChange(ctx context.Context, consent models.Categories) ReplayResult {
	p.mu.Lock()
	p.consent = consent.Clone()
	var released []*QueuedActivity
	kept := p.queue[:0]
	for _, entry := range p.queue {
		if entry.releasable(p.consent) {
			released = append(released, entry)
		} else {
			kept = append(kept, entry)
		}
	}
	clear(p.queue[len(kept):])
	p.queue = kept
	p.mu.Unlock()

	result := ReplayResult{Failed: make(map[string]error)}
	m := p.engine.metrics
	if m != nil && len(released) > 0 {
		m.AddQueued(-len(released))
	}
	for _, entry := range released {
		if err := p.replay(ctx, entry); err != nil {
			p.engine.logger.WarnContext(ctx, "replay failed",
				"queue_id", entry.ID,
				"category", entry.Category,
				"error", err,
			)
			result.Failed[entry.ID] = err
			if m != nil {
				m.IncReplayError(string(entry.Category))
			}
		} else if m != nil {
			m.IncReplayed(string(entry.Category))
		}
		result.Released = append(result.Released, *entry)
	}
	return result
}

func (p *Page) replay(ctx context.Context, entry *QueuedActivity) (err error) {
	if p.executor == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	act := entry.Activity
	act.Replayed = true
	if act.CategoryHint == "" {
		act.CategoryHint = entry.Category
	}
	if act.Kind == KindIframe {
		return p.executor.RestoreSource(ctx, act)
	}
	return p.executor.Reinject(ctx, act)
}
