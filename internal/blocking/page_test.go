package blocking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"privacyhub/internal/consent/models"
	"privacyhub/pkg/testutil"
)

type call struct {
	op  string
	act Activity
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (e *recordingExecutor) record(op string, act Activity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call{op: op, act: act})
	return e.fail[act.URL]
}

func (e *recordingExecutor) Reinject(_ context.Context, act Activity) error {
	return e.record("reinject", act)
}

func (e *recordingExecutor) RestoreSource(_ context.Context, act Activity) error {
	return e.record("restore", act)
}

func (e *recordingExecutor) Placeholder(_ context.Context, act Activity, _ Rule) error {
	return e.record("placeholder", act)
}

func (e *recordingExecutor) ops(op string) []Activity {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Activity
	for _, c := range e.calls {
		if c.op == op {
			out = append(out, c.act)
		}
	}
	return out
}

type PageSuite struct {
	suite.Suite
	exec *recordingExecutor
	page *Page
	ctx  context.Context
}

func TestPageSuite(t *testing.T) {
	suite.Run(t, new(PageSuite))
}

func (s *PageSuite) SetupTest() {
	s.ctx = context.Background()
	s.exec = &recordingExecutor{}
	s.page = NewPage(New(testRules(), WithLogger(quietLogger())), s.exec, nil)
}

// Invariant: a suppressed network request is reported to the host as ErrBlocked.
func (s *PageSuite) TestNetworkRequestRejected() {
	d, err := s.page.Intercept(s.ctx, Activity{Kind: KindXHR, URL: "https://www.google-analytics.com/g/collect"})
	s.Require().ErrorIs(err, ErrBlocked)
	s.False(d.Allowed)
	s.NotEmpty(d.QueueID)
	s.Len(s.page.Pending(), 1)
}

func (s *PageSuite) TestScriptAndIframeQueuedWithoutError() {
	d, err := s.page.Intercept(s.ctx, Activity{Kind: KindScript, URL: "https://connect.facebook.net/en_US/fbevents.js"})
	s.Require().NoError(err)
	s.Equal(EffectRemove, d.Effect)

	d, err = s.page.Intercept(s.ctx, Activity{Kind: KindIframe, URL: "https://www.youtube.com/embed/v1", ElementID: "video"})
	s.Require().NoError(err)
	s.Equal(EffectClearSource, d.Effect)
	s.Len(s.exec.ops("placeholder"), 1, "placeholder rule renders a stand-in")

	pending := s.page.Pending()
	s.Require().Len(pending, 2)
	s.Equal(KindScript, pending[0].Activity.Kind)
	s.Equal("yt", pending[1].RuleID)
}

// Scenario: analytics granted, marketing denied. Exactly one analytics replay and
// nothing for marketing.
func (s *PageSuite) TestGrantReleasesOnlyGrantedCategory() {
	_, _ = s.page.Intercept(s.ctx, Activity{Kind: KindScript, URL: "https://cdn.example.com/a.js", CategoryHint: models.CategoryAnalytics})
	_, _ = s.page.Intercept(s.ctx, Activity{Kind: KindScript, URL: "https://cdn.example.com/m.js", CategoryHint: models.CategoryMarketing})

	res := s.page.OnConsentChange(s.ctx, models.Categories{
		models.CategoryAnalytics: true,
		models.CategoryMarketing: false,
	})

	s.Require().Len(res.Released, 1)
	replays := s.exec.ops("reinject")
	s.Require().Len(replays, 1)
	s.Equal("https://cdn.example.com/a.js", replays[0].URL)
	s.True(replays[0].Replayed)

	pending := s.page.Pending()
	s.Require().Len(pending, 1)
	s.Equal(models.CategoryMarketing, pending[0].Category)

	s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: true})
	s.Len(s.exec.ops("reinject"), 1, "no duplicate replay on a later change")
}

// An entry governed by two categories waits until both are granted.
func (s *PageSuite) TestEntryReleasedOnlyWhenEveryCategoryGranted() {
	d, err := s.page.Intercept(s.ctx, Activity{
		Kind: KindScript, URL: "https://www.google-analytics.com/gtag.js", CategoryHint: models.CategoryMarketing,
	})
	s.Require().NoError(err)
	s.Equal([]models.Category{models.CategoryMarketing, models.CategoryAnalytics}, d.Categories)

	res := s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: true})
	s.Empty(res.Released)
	s.Len(s.page.Pending(), 1)

	res = s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryMarketing: true})
	s.Empty(res.Released, "analytics was withdrawn again")
	s.Len(s.page.Pending(), 1)

	res = s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: true, models.CategoryMarketing: true})
	s.Require().Len(res.Released, 1)
	s.Equal(d.QueueID, res.Released[0].ID)
	s.Empty(s.page.Pending())
	s.Len(s.exec.ops("reinject"), 1)
}

func (s *PageSuite) TestReplayPreservesQueueOrder() {
	urls := []string{
		"https://www.google-analytics.com/1",
		"https://connect.facebook.net/2",
		"https://www.google-analytics.com/3",
	}
	for _, u := range urls {
		_, _ = s.page.Intercept(s.ctx, Activity{Kind: KindScript, URL: u})
	}

	s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: true, models.CategoryMarketing: true})

	replays := s.exec.ops("reinject")
	s.Require().Len(replays, 3)
	for i, u := range urls {
		s.Equal(u, replays[i].URL)
	}
	s.Equal(models.CategoryMarketing, replays[1].CategoryHint)
}

func (s *PageSuite) TestIframeRestoredOnGrant() {
	_, _ = s.page.Intercept(s.ctx, Activity{Kind: KindIframe, URL: "https://www.youtube.com/embed/v1"})

	s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryMarketing: true})

	restored := s.exec.ops("restore")
	s.Require().Len(restored, 1)
	s.Equal("https://www.youtube.com/embed/v1", restored[0].URL)
	s.Empty(s.exec.ops("reinject"))
}

func (s *PageSuite) TestAllowedAfterGrantIsNotQueued() {
	s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: true})

	d, err := s.page.Intercept(s.ctx, Activity{Kind: KindFetch, URL: "https://www.google-analytics.com/collect"})
	s.Require().NoError(err)
	s.True(d.Allowed)
	s.Empty(s.page.Pending())

	s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: true})
	s.Empty(s.exec.calls)
}

func (s *PageSuite) TestWithdrawBlocksAgain() {
	s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: true})
	s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: false})

	_, err := s.page.Intercept(s.ctx, Activity{Kind: KindFetch, URL: "https://www.google-analytics.com/collect"})
	s.ErrorIs(err, ErrBlocked)
}

func (s *PageSuite) TestFailedReplayIsNotRequeued() {
	s.exec.fail = map[string]error{"https://www.google-analytics.com/x.js": errors.New("csp violation")}
	_, _ = s.page.Intercept(s.ctx, Activity{Kind: KindScript, URL: "https://www.google-analytics.com/x.js"})

	res := s.page.OnConsentChange(s.ctx, models.Categories{models.CategoryAnalytics: true})

	s.Len(res.Released, 1)
	s.Len(res.Failed, 1)
	s.Empty(s.page.Pending())
}

type panickingExecutor struct{ recordingExecutor }

func (p *panickingExecutor) Reinject(context.Context, Activity) error { panic("host crashed") }

func TestReplayPanicIsolated(t *testing.T) {
	page := NewPage(New(testRules(), WithLogger(quietLogger())), &panickingExecutor{}, nil)
	_, _ = page.Intercept(context.Background(), Activity{Kind: KindScript, URL: "https://www.google-analytics.com/a.js"})
	_, _ = page.Intercept(context.Background(), Activity{Kind: KindScript, URL: "https://www.google-analytics.com/b.js"})

	var res ReplayResult
	require.NotPanics(t, func() {
		res = page.OnConsentChange(context.Background(), models.Categories{models.CategoryAnalytics: true})
	})
	assert.Len(t, res.Released, 2)
	assert.Len(t, res.Failed, 2)
}

// Invariant: concurrent consent changes release each queued activity exactly once.
func TestConcurrentConsentChangesReplayOnce(t *testing.T) {
	exec := &recordingExecutor{}
	page := NewPage(New(testRules(), WithLogger(quietLogger())), exec, nil)
	for range 50 {
		_, _ = page.Intercept(context.Background(), Activity{Kind: KindScript, URL: "https://www.google-analytics.com/s.js"})
	}

	result := testutil.RunConcurrent(20, func(int) error {
		page.OnConsentChange(context.Background(), models.Categories{models.CategoryAnalytics: true})
		return nil
	})

	assert.Equal(t, int32(20), result.Successes)
	assert.Len(t, exec.ops("reinject"), 50)
	assert.Empty(t, page.Pending())
}

func TestPageConsentIsCopied(t *testing.T) {
	cats := models.Categories{models.CategoryAnalytics: true}
	page := NewPage(New(nil), nil, cats)
	cats[models.CategoryAnalytics] = false
	assert.True(t, page.Consent()[models.CategoryAnalytics])
}

type fakeInterceptor struct {
	hook func(context.Context, Activity) (Decision, error)
}

func (f *fakeInterceptor) Subscribe(hook func(context.Context, Activity) (Decision, error)) func() {
	f.hook = hook
	return func() { f.hook = nil }
}

func TestAttach(t *testing.T) {
	in := &fakeInterceptor{}
	page := NewPage(New(testRules(), WithLogger(quietLogger())), nil, nil)
	unsubscribe := page.Attach(in)
	require.NotNil(t, in.hook)

	_, err := in.hook(context.Background(), Activity{Kind: KindBeacon, URL: "https://connect.facebook.net/tr"})
	assert.ErrorIs(t, err, ErrBlocked)

	unsubscribe()
	assert.Nil(t, in.hook)
}
