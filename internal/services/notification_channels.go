package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubnub "github.com/pubnub/go/v7"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/railconnect/booking-backend/internal/models"
	"github.com/railconnect/booking-backend/pkg/email"
	"github.com/railconnect/booking-backend/pkg/sms"
)

// Channel delivers one notification event on one medium
type Channel interface {
	Name() models.NotificationChannel
	Deliver(ctx context.Context, event models.NotificationEvent) error
}

// errNoAddress is returned when the booking has no address for the channel
var errNoAddress = errors.New("no contact address for channel")

// ============================================================================
// SMS
// ============================================================================

// SMSChannel sends booking texts through an SMS gateway
type SMSChannel struct {
	gateway sms.Gateway
}

// NewSMSChannel creates a new SMSChannel
func NewSMSChannel(gateway sms.Gateway) *SMSChannel {
	return &SMSChannel{gateway: gateway}
}

func (c *SMSChannel) Name() models.NotificationChannel { return models.ChannelSMS }

func (c *SMSChannel) Deliver(ctx context.Context, event models.NotificationEvent) error {
	if event.Contact.Phone == "" {
		return errNoAddress
	}
	message, err := renderSMS(event)
	if err != nil {
		return err
	}
	if _, err := c.gateway.Send(ctx, event.Contact.Phone, message); err != nil {
		return fmt.Errorf("%s: %w", c.gateway.GetName(), err)
	}
	return nil
}

// ============================================================================
// EMAIL
// ============================================================================

// EmailChannel sends booking emails
type EmailChannel struct {
	mailer email.Mailer
}

// NewEmailChannel creates a new EmailChannel
func NewEmailChannel(mailer email.Mailer) *EmailChannel {
	return &EmailChannel{mailer: mailer}
}

func (c *EmailChannel) Name() models.NotificationChannel { return models.ChannelEmail }

func (c *EmailChannel) Deliver(ctx context.Context, event models.NotificationEvent) error {
	if event.Contact.Email == "" {
		return errNoAddress
	}
	subject, html, text, err := renderEmail(event)
	if err != nil {
		return err
	}
	return c.mailer.Send(ctx, email.Message{
		To:      event.Contact.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
}

// ============================================================================
// BROKER (RabbitMQ)
// ============================================================================

// AMQPPublisher is the subset of *amqp.Channel used to publish events
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// BrokerChannel publishes booking events to a durable queue for downstream
// consumers
type BrokerChannel struct {
	publisher AMQPPublisher
	queue     string
}

// NewBrokerChannel creates a new BrokerChannel
func NewBrokerChannel(publisher AMQPPublisher, queue string) *BrokerChannel {
	return &BrokerChannel{publisher: publisher, queue: queue}
}

func (c *BrokerChannel) Name() models.NotificationChannel { return models.ChannelBroker }

func (c *BrokerChannel) Deliver(ctx context.Context, event models.NotificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return c.publisher.PublishWithContext(ctx,
		"",      // default exchange
		c.queue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Type:         string(event.Kind),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// ============================================================================
// REALTIME (PubNub)
// ============================================================================

// RealtimePublisher publishes a message on a realtime channel
type RealtimePublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RealtimeChannel pushes booking updates to the user's in-app channel
type RealtimeChannel struct {
	publisher RealtimePublisher
}

// NewRealtimeChannel creates a new RealtimeChannel
func NewRealtimeChannel(publisher RealtimePublisher) *RealtimeChannel {
	return &RealtimeChannel{publisher: publisher}
}

func (c *RealtimeChannel) Name() models.NotificationChannel { return models.ChannelRealtime }

func (c *RealtimeChannel) Deliver(ctx context.Context, event models.NotificationEvent) error {
	return c.publisher.Publish(ctx, "user-"+event.UserID, map[string]any{
		"type":        string(event.Kind),
		"pnr":         event.ReservationCode,
		"status":      string(event.Status),
		"train_id":    event.TrainID,
		"travel_date": event.TravelDate,
	})
}

// PubNubPublisher adapts a PubNub client to RealtimePublisher
type PubNubPublisher struct {
	pn *pubnub.PubNub
}

// NewPubNubPublisher creates a PubNub client from keys
func NewPubNubPublisher(publishKey, subscribeKey, secretKey, userID string) *PubNubPublisher {
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	pnConfig.PublishKey = publishKey
	pnConfig.SubscribeKey = subscribeKey
	pnConfig.SecretKey = secretKey
	return &PubNubPublisher{pn: pubnub.NewPubNub(pnConfig)}
}

// Publish sends message on channel. The PubNub request runs on its own
// timeout; ctx only bounds how long the caller waits.
func (p *PubNubPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	done := make(chan error, 1)
	go func() {
		_, status, err := p.pn.Publish().
			Channel(channel).
			Message(message).
			Execute()
		if err == nil && status.Error != nil {
			err = status.Error
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("pubnub publish to %s failed: %w", channel, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pubnub publish to %s not confirmed: %w", channel, ctx.Err())
	}
}
