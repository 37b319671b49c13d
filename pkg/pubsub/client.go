package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type topicAdmin interface {
	GetTopic(ctx context.Context, req *pubsubpb.GetTopicRequest, opts ...gax.CallOption) (*pubsubpb.Topic, error)
}

type subscriptionAdmin interface {
	GetSubscription(ctx context.Context, req *pubsubpb.GetSubscriptionRequest, opts ...gax.CallOption) (*pubsubpb.Subscription, error)
}

// Client owns the commerce events topic and the two subscriptions fed from
// it. Publishers are cached per topic and stopped on Close.
type Client struct {
	client        *pubsub.Client
	topics        topicAdmin
	subscriptions subscriptionAdmin
	projectID     string
	cfg           config.PubSubConfig
	logg          *logger.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and checks that the events topic exists and that every
// configured subscription is attached to it.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:        psClient,
		topics:        psClient.TopicAdminClient,
		subscriptions: psClient.SubscriptionAdminClient,
		projectID:     projectID,
		cfg:           cfg,
		logg:          logg,
		publishers:    map[string]*pubsub.Publisher{},
	}
	if err := c.verifyTopology(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "events_topic", c.resourceName("topics", cfg.EventsTopic)), "pubsub client initialized")
	}
	return c, nil
}

// verifyTopology fails when the events topic or a subscription is missing, or
// when a subscription reads from some other topic. Subscriptions without
// message ordering are reported, since per-aggregate order is lost on them.
func (c *Client) verifyTopology(ctx context.Context) error {
	topic := c.resourceName("topics", c.cfg.EventsTopic)
	if topic == "" {
		return errors.New("pubsub events topic is required")
	}
	if _, err := c.topics.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic}); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", topic)
		}
		return fmt.Errorf("checking topic %q: %w", topic, err)
	}

	names := subscriptionNames(c.cfg)
	if len(names) == 0 {
		return errors.New("pubsub subscription name is required")
	}
	for _, name := range names {
		full := c.resourceName("subscriptions", name)
		sub, err := c.subscriptions.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("subscription %q does not exist", name)
			}
			return fmt.Errorf("checking subscription %q: %w", name, err)
		}
		if sub.GetTopic() != topic {
			return fmt.Errorf("subscription %q reads %q, want %q", name, sub.GetTopic(), topic)
		}
		if !sub.GetEnableMessageOrdering() && c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "subscription", full), "subscription does not preserve message ordering")
		}
	}
	return nil
}

func subscriptionNames(cfg config.PubSubConfig) []string {
	names := []string{}
	for _, name := range []string{cfg.NotificationSubscription, cfg.AnalyticsSubscription} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func (c *Client) subscriber(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName("subscriptions", name)
	if full == "" {
		return nil
	}
	sub := c.client.Subscriber(full)
	if c.cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstandingMessages
	}
	if c.cfg.ReceiveGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = c.cfg.ReceiveGoroutines
	}
	return sub
}

// NotificationSubscription returns the subscriber feeding in-app notifications.
func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.subscriber(c.cfg.NotificationSubscription)
}

// AnalyticsSubscription returns the subscriber feeding the analytics sink.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.subscriber(c.cfg.AnalyticsSubscription)
}

// Publisher returns the shared publisher for topic with message ordering
// enabled.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName("topics", topic)
	if full == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	p.EnableMessageOrdering = true
	c.publishers[full] = p
	return p
}

// Ping re-checks the topic and subscriptions.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.topics == nil || c.subscriptions == nil {
		return errNotInitialized
	}
	return c.verifyTopology(ctx)
}

// Close flushes and stops cached publishers, then closes the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName qualifies name as projects/<id>/<kind>/<name> unless it is
// already fully qualified.
func (c *Client) resourceName(kind, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", c.projectID, kind, n)
}
