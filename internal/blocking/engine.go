// Package blocking gates outbound activity behind consent categories and replays
// what it suppressed once the category is granted.
//
// The package is runtime agnostic. A host (browser shim, headless crawler,
// server-side tag proxy) feeds activity in through an Interceptor and carries
// out replays through an Executor.
package blocking

import (
	"log/slog"
	"slices"

	"privacyhub/internal/consent/models"
)

// Engine evaluates activity against a compiled rule set. It holds no consent
// state and is safe for concurrent use.
type Engine struct {
	matchers []matcher
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New compiles rules. Broken regex patterns are logged once here and fall back to
// substring matching.
func New(rules []Rule, opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.matchers = make([]matcher, 0, len(rules))
	for _, r := range rules {
		if r.Action == "" {
			r.Action = ActionBlock
		}
		m, broken := compileRule(r, e.logger)
		if broken && e.metrics != nil {
			e.metrics.IncBrokenRule()
		}
		e.matchers = append(e.matchers, m)
	}
	return e
}

// Rules returns the rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, 0, len(e.matchers))
	for _, m := range e.matchers {
		out = append(out, m.rule)
	}
	return out
}

// Evaluate decides whether act may proceed under consent. Every matching rule
// governs the activity, and so does the element's category hint: the activity
// runs only when all of those categories are granted. Decision.Rule is the rule
// behind the first denied category, or the first matching rule when allowed.
func (e *Engine) Evaluate(act Activity, consent models.Categories) Decision {
	var (
		d       Decision
		matched []*Rule
	)
	if act.CategoryHint != "" {
		d.Categories = append(d.Categories, act.CategoryHint)
		matched = append(matched, nil)
	}
	for i := range e.matchers {
		if !e.matchers[i].matches(act.URL) {
			continue
		}
		rule := e.matchers[i].rule
		if d.Rule == nil {
			d.Rule = &rule
		}
		if !slices.Contains(d.Categories, rule.Category) {
			d.Categories = append(d.Categories, rule.Category)
			matched = append(matched, &rule)
		}
	}
	if len(d.Categories) > 0 {
		d.Category = d.Categories[0]
	}

	for i, cat := range d.Categories {
		if consent.Granted(cat) {
			continue
		}
		d.Category = cat
		if matched[i] != nil {
			d.Rule = matched[i]
		}
		d.Effect = suppressEffect(act.Kind)
		return d
	}
	d.Allowed = true
	d.Effect = EffectAllow
	return d
}
