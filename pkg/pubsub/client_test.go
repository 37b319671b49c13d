package pubsub

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/logger"
)

const eventsTopic = "projects/shop-prod/topics/commerce-events"

type fakeTopics struct {
	err error
}

func (f *fakeTopics) GetTopic(_ context.Context, req *pubsubpb.GetTopicRequest, _ ...gax.CallOption) (*pubsubpb.Topic, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pubsubpb.Topic{Name: req.GetTopic()}, nil
}

type fakeSubscriptions struct {
	subs map[string]*pubsubpb.Subscription
	err  error
}

func (f *fakeSubscriptions) GetSubscription(_ context.Context, req *pubsubpb.GetSubscriptionRequest, _ ...gax.CallOption) (*pubsubpb.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[req.GetSubscription()]
	if !ok {
		return nil, status.Error(codes.NotFound, "subscription not found")
	}
	return sub, nil
}

func attached(name string) *pubsubpb.Subscription {
	return &pubsubpb.Subscription{
		Name:                  "projects/shop-prod/subscriptions/" + name,
		Topic:                 eventsTopic,
		EnableMessageOrdering: true,
	}
}

func newTestClient(topics topicAdmin, subs subscriptionAdmin) *Client {
	return &Client{
		topics:        topics,
		subscriptions: subs,
		projectID:     "shop-prod",
		cfg: config.PubSubConfig{
			EventsTopic:              "commerce-events",
			NotificationSubscription: "notifications-sub",
			AnalyticsSubscription:    "analytics-sub",
		},
		logg: logger.New(logger.Options{ServiceName: "pubsub-test", Output: io.Discard}),
	}
}

func TestPingAcceptsAttachedSubscriptions(t *testing.T) {
	subs := &fakeSubscriptions{subs: map[string]*pubsubpb.Subscription{
		"projects/shop-prod/subscriptions/notifications-sub": attached("notifications-sub"),
		"projects/shop-prod/subscriptions/analytics-sub":     attached("analytics-sub"),
	}}
	if err := newTestClient(&fakeTopics{}, subs).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestPingRejectsBrokenTopology(t *testing.T) {
	foreign := attached("analytics-sub")
	foreign.Topic = "projects/shop-prod/topics/legacy-orders"

	cases := map[string]struct {
		topics *fakeTopics
		subs   *fakeSubscriptions
		want   string
	}{
		"missing topic": {
			topics: &fakeTopics{err: status.Error(codes.NotFound, "topic not found")},
			subs:   &fakeSubscriptions{},
			want:   "does not exist",
		},
		"missing subscription": {
			topics: &fakeTopics{},
			subs: &fakeSubscriptions{subs: map[string]*pubsubpb.Subscription{
				"projects/shop-prod/subscriptions/notifications-sub": attached("notifications-sub"),
			}},
			want: `subscription "analytics-sub" does not exist`,
		},
		"subscription on another topic": {
			topics: &fakeTopics{},
			subs: &fakeSubscriptions{subs: map[string]*pubsubpb.Subscription{
				"projects/shop-prod/subscriptions/notifications-sub": attached("notifications-sub"),
				"projects/shop-prod/subscriptions/analytics-sub":     foreign,
			}},
			want: "legacy-orders",
		},
		"admin api unavailable": {
			topics: &fakeTopics{},
			subs:   &fakeSubscriptions{err: errors.New("connection reset")},
			want:   "checking subscription",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := newTestClient(tc.topics, tc.subs).Ping(context.Background())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestPingWithoutClient(t *testing.T) {
	var c *Client
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if c.Publisher("commerce-events") != nil || c.AnalyticsSubscription() != nil {
		t.Fatal("nil client must not hand out handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{
		NotificationSubscription: " notifications-sub ",
		AnalyticsSubscription:    "",
	})
	if len(names) != 1 || names[0] != "notifications-sub" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestResourceName(t *testing.T) {
	c := &Client{projectID: "shop-prod"}
	if got := c.resourceName("subscriptions", "analytics-sub"); got != "projects/shop-prod/subscriptions/analytics-sub" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	full := "projects/other/topics/commerce"
	if got := c.resourceName("topics", full); got != full {
		t.Fatalf("expected full topic name passthrough, got %q", got)
	}
	if got := c.resourceName("subscriptions", full); got == full {
		t.Fatal("topic path must not pass as a subscription")
	}
	if got := c.resourceName("topics", "  "); got != "" {
		t.Fatalf("expected blank topic to resolve empty, got %q", got)
	}
}
