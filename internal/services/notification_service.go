package services

import (
	"context"
	"errors"
	"time"

	"github.com/railconnect/booking-backend/internal/models"
	"github.com/railconnect/booking-backend/internal/monitoring"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// NotificationService fans booking events out to the configured channels.
// Every channel is attempted once; a failing channel affects nobody else and
// nothing is returned to the booking workflow as an error.
type NotificationService struct {
	channels map[models.NotificationChannel]Channel
	order    []models.NotificationChannel
	timeout  time.Duration
	metrics  *monitoring.Metrics
	logger   *logrus.Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	timeout time.Duration,
	metrics *monitoring.Metrics,
	logger *logrus.Logger,
	channels ...Channel,
) *NotificationService {
	s := &NotificationService{
		channels: make(map[models.NotificationChannel]Channel, len(channels)),
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
	}
	for _, ch := range channels {
		if _, exists := s.channels[ch.Name()]; !exists {
			s.order = append(s.order, ch.Name())
		}
		s.channels[ch.Name()] = ch
	}
	return s
}

// ChannelsFor picks the registered channels that can reach the event's user:
// SMS and email need a contact address, broker and realtime always apply
func (s *NotificationService) ChannelsFor(event models.NotificationEvent) []models.NotificationChannel {
	selected := make([]models.NotificationChannel, 0, len(s.order))
	for _, name := range s.order {
		switch name {
		case models.ChannelSMS:
			if event.Contact.Phone == "" {
				continue
			}
		case models.ChannelEmail:
			if event.Contact.Email == "" {
				continue
			}
		}
		selected = append(selected, name)
	}
	return selected
}

// Notify delivers event on each requested channel in parallel and waits at
// most the configured timeout. Results are returned for logging and tests.
func (s *NotificationService) Notify(
	ctx context.Context,
	event models.NotificationEvent,
	channels []models.NotificationChannel,
) []models.DeliveryResult {
	if len(channels) == 0 {
		return nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	results := make([]models.DeliveryResult, len(channels))
	var g errgroup.Group

	for i, name := range channels {
		results[i].Channel = name
		channel, ok := s.channels[name]
		if !ok {
			results[i].Err = errors.New("channel not configured")
			continue
		}

		g.Go(func() error {
			results[i].Err = s.deliver(ctx, channel, event)
			return nil
		})
	}
	_ = g.Wait()

	for _, result := range results {
		s.metrics.RecordNotification(string(result.Channel), result.Err)
		entry := s.logger.WithFields(logrus.Fields{
			"reservation_code": event.ReservationCode,
			"event":            event.Kind,
			"event_id":         event.ID,
			"channel":          result.Channel,
		})
		if result.Err != nil {
			entry.WithError(result.Err).Warn("Notification delivery failed")
		} else {
			entry.Debug("Notification delivered")
		}
	}

	return results
}

// deliver isolates one channel, converting a panic into an error
func (s *NotificationService) deliver(ctx context.Context, channel Channel, event models.NotificationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("notification channel panicked")
			s.logger.WithField("channel", channel.Name()).Errorf("Recovered notification panic: %v", r)
		}
	}()
	return channel.Deliver(ctx, event)
}
