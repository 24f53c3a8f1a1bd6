package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacyhub/internal/blocking"
	"privacyhub/internal/consent/models"
	"privacyhub/internal/platform/kafka/producer"
)

type capture struct {
	messages []*producer.Message
}

func (c *capture) Produce(_ context.Context, msg *producer.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func (c *capture) ProduceAsync(msg *producer.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func (c *capture) Healthy(context.Context) bool { return true }

func (c *capture) Close() error { return nil }

func TestReplayPublishesThroughPage(t *testing.T) {
	pub := &capture{}
	engine := blocking.New([]blocking.Rule{
		{ID: "ga", Pattern: "google-analytics.com", Category: models.CategoryAnalytics},
	})
	page := blocking.NewPage(engine, New(pub, "privacyhub.tags"), nil)

	_, err := page.Intercept(context.Background(), blocking.Activity{
		Kind: blocking.KindBeacon,
		URL:  "https://www.google-analytics.com/g/collect",
	})
	require.ErrorIs(t, err, blocking.ErrBlocked)
	require.Empty(t, pub.messages)

	page.OnConsentChange(context.Background(), models.Categories{models.CategoryAnalytics: true})

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "privacyhub.tags", msg.Topic)
	assert.Equal(t, "tag.beacon", msg.Headers["event_type"])

	var body Message
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.True(t, body.Replayed)
	assert.Equal(t, "analytics", body.Category)
	assert.Equal(t, "https://www.google-analytics.com/g/collect", body.URL)
}

func TestPlaceholderPublished(t *testing.T) {
	pub := &capture{}
	exec := New(pub, "t")

	err := exec.Placeholder(context.Background(),
		blocking.Activity{Kind: blocking.KindIframe, URL: "https://player.vimeo.com/video/1"},
		blocking.Rule{ID: "vimeo", Category: models.CategoryFunctional, Action: blocking.ActionPlaceholder},
	)
	require.NoError(t, err)

	var body Message
	require.NoError(t, json.Unmarshal(pub.messages[0].Value, &body))
	assert.True(t, body.Placeholder)
	assert.False(t, body.Replayed)
	assert.Equal(t, "vimeo", body.RuleID)
}
