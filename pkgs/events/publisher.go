package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Redis channel names for event publishing
const (
	ChannelSubmissions = "coordinator:events:submissions"
	ChannelValidations = "coordinator:events:validations"
	ChannelSettlements = "coordinator:events:settlements"
	ChannelAll         = "coordinator:events:all"
)

// Publisher forwards events to redis pub/sub channels so external consumers
// (dashboards, alerting) can watch the coordinator without polling its API.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a publisher over the given redis client
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// AsSubscriber wraps the publisher as an emitter subscriber
func (p *Publisher) AsSubscriber() *Subscriber {
	return &Subscriber{
		ID:      "redis-publisher",
		Handler: p.HandleEvent,
	}
}

// HandleEvent publishes an event to the appropriate redis channels
func (p *Publisher) HandleEvent(event *Event) {
	if p.client == nil {
		return
	}

	data, err := event.ToJSON()
	if err != nil {
		log.WithError(err).Error("Failed to serialize event for publishing")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channels := []string{ChannelAll}
	if ch := channelFor(event.Type); ch != "" {
		channels = append(channels, ch)
	}

	for _, channel := range channels {
		if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
			log.WithFields(log.Fields{
				"channel":    channel,
				"event_type": event.Type,
			}).WithError(err).Debug("Failed to publish event to redis")
		}
	}
}

// channelFor maps an event type to its dedicated channel
func channelFor(t EventType) string {
	switch t {
	case EventSubmissionReceived, EventSolutionAccepted, EventSolutionRejected, EventBestSolutionPromoted:
		return ChannelSubmissions
	case EventWindowOpened, EventVoteRecorded, EventWindowResolved:
		return ChannelValidations
	case EventRewardSettled, EventInstanceDeactivated:
		return ChannelSettlements
	default:
		return ""
	}
}

// Ping verifies the redis connection is usable
func (p *Publisher) Ping(ctx context.Context) error {
	if p.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	return p.client.Ping(ctx).Err()
}
