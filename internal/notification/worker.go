package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fleet-sync/internal/fleet"
	"fleet-sync/internal/model"
)

// Sender sends a single web push notification. Split out so tests can stub
// the network.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the production Sender.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans fleet alerts out to subscribed operators over web push.
type WorkerPool struct {
	size    int
	jobs    chan fleet.Alert
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
	log     zerolog.Logger
}

// NewWorkerPool creates a pool of size workers.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, log zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan fleet.Alert, size*4),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log.With().Str("component", "notification").Logger(),
	}
}

// SetSender replaces the sender; used by tests.
func (wp *WorkerPool) SetSender(s Sender) { wp.sender = s }

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// Dispatch queues an alert for fan-out without blocking; under sustained
// overload newest alerts are dropped from the push path (they are still in
// the coordinator's alert log).
func (wp *WorkerPool) Dispatch(alert fleet.Alert) {
	select {
	case wp.jobs <- alert:
	default:
		wp.log.Warn().Str("alert_id", alert.ID).Msg("notification queue full, push skipped")
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case alert := <-wp.jobs:
			wp.sendForAlert(ctx, alert)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

type pushPayload struct {
	Title      string  `json:"title"`
	Message    string  `json:"message"`
	DeviceID   string  `json:"device_id"`
	DeviceName string  `json:"device_name"`
	Autonomy   float64 `json:"autonomy_hours"`
}

func (wp *WorkerPool) sendForAlert(ctx context.Context, alert fleet.Alert) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		wp.log.Error().Err(err).Msg("failed to load push subscriptions")
		return
	}

	payload, err := json.Marshal(pushPayload{
		Title:      "Fleet alert: " + alert.DeviceName,
		Message:    alert.Message,
		DeviceID:   alert.DeviceID,
		DeviceName: alert.DeviceName,
		Autonomy:   alert.AutonomyHours,
	})
	if err != nil {
		wp.log.Error().Err(err).Msg("failed to marshal push payload")
		return
	}

	for _, sub := range subscriptions {
		if !subscribedTo(sub, alert.DeviceID) {
			continue
		}
		wp.send(ctx, sub, payload)
	}
}

// subscribedTo reports whether the subscription covers the device. An empty
// device list means all devices.
func subscribedTo(sub model.PushSubscription, deviceID string) bool {
	if sub.DeviceIDs == "" {
		return true
	}
	for _, id := range strings.Split(sub.DeviceIDs, ",") {
		if strings.TrimSpace(id) == deviceID {
			return true
		}
	}
	return false
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn().Str("endpoint", sub.Endpoint).Err(err).Msg("push send failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Warn().Str("endpoint", sub.Endpoint).Err(err).Msg("failed to delete expired subscription")
		}
	}
}
