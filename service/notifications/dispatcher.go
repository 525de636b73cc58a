package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/analytics"
	"github.com/KAsare1/Stockalerts-server/service/metrics"
	"github.com/sirupsen/logrus"
)

const (
	ChannelInApp = "in_app"
	ChannelWeb   = "web"
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// DispatchStore is the persistence the dispatcher needs.
type DispatchStore interface {
	db.TriggerStore
	db.NotificationStore
	db.DeviceStore
}

// Summary counts the outcome of a dispatch or scan.
type Summary struct {
	Alerts     int `json:"alerts"`
	Triggers   int `json:"triggers"`
	Emitted    int `json:"emitted"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

func (s *Summary) add(o Summary) {
	s.Alerts += o.Alerts
	s.Triggers += o.Triggers
	s.Emitted += o.Emitted
	s.Suppressed += o.Suppressed
	s.Failed += o.Failed
}

// Dispatcher turns alert triggers into notifications on every channel the
// preference enables. A failing channel never blocks the others.
type Dispatcher struct {
	store   DispatchStore
	hub     *Hub
	pusher  Pusher
	mailer  Mailer
	metrics *metrics.Recorder
	timeout time.Duration
	log     *logrus.Logger
}

// NewDispatcher wires the delivery channels. A nil pusher or mailer disables that channel.
func NewDispatcher(store DispatchStore, hub *Hub, pusher Pusher, mailer Mailer, rec *metrics.Recorder, timeout time.Duration, log *logrus.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		store:   store,
		hub:     hub,
		pusher:  pusher,
		mailer:  mailer,
		metrics: rec,
		timeout: timeout,
		log:     log,
	}
}

// Dispatch records and delivers each trigger once. Triggers whose key was
// already recorded are suppressed.
func (d *Dispatcher) Dispatch(ctx context.Context, triggers []analytics.Trigger) Summary {
	sum := Summary{Triggers: len(triggers)}
	for _, t := range triggers {
		rec := &models.TriggerRecord{
			Key:          t.Key,
			UserID:       t.User.ID,
			PreferenceID: t.Preference.ID,
			StockAlertID: t.StockAlertID,
			Kind:         t.Kind,
			Price:        t.Price,
		}
		fresh, err := d.store.RecordTrigger(ctx, rec)
		if err != nil {
			d.log.Errorf("record trigger %s: %v", t.Key, err)
			d.metrics.RecordTrigger(t.Kind, "failed")
			sum.Failed++
			continue
		}
		if !fresh {
			d.metrics.RecordTrigger(t.Kind, "suppressed")
			sum.Suppressed++
			continue
		}
		if err := d.deliver(ctx, t); err != nil {
			// Without the stored notification the trigger was never seen; let the next scan retry it.
			if forgetErr := d.store.ForgetTrigger(ctx, t.Key); forgetErr != nil {
				d.log.Errorf("forget trigger %s: %v", t.Key, forgetErr)
			}
			d.metrics.RecordTrigger(t.Kind, "failed")
			sum.Failed++
			continue
		}
		d.metrics.RecordTrigger(t.Kind, "emitted")
		sum.Emitted++
	}
	return sum
}

// deliver stores the in-app notification and fans it out. Only a failure to store
// is returned; the other channels log and count their own failures.
func (d *Dispatcher) deliver(ctx context.Context, t analytics.Trigger) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	alertID := t.StockAlertID
	n := &models.Notification{
		UserID:       t.User.ID,
		Title:        t.Title(),
		Message:      t.Message(),
		Type:         models.NotificationAlertTrigger,
		StockAlertID: &alertID,
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		d.log.Errorf("store notification for user %d: %v", t.User.ID, err)
		d.metrics.RecordDelivery(ChannelInApp, "failed")
		return err
	}
	d.metrics.RecordDelivery(ChannelInApp, "delivered")

	pref := t.Preference
	if pref.WebEnabled {
		d.publish(t.User.ID, n)
	}
	if pref.PushEnabled {
		d.push(ctx, t.User.ID, n.Title, n.Message, map[string]string{
			"type":           n.Type,
			"stock_alert_id": fmt.Sprint(alertID),
			"kind":           t.Kind,
		})
	}
	if pref.EmailEnabled {
		d.email(ctx, t.User, n.Title, n.Message)
	}
	return nil
}

// Notify stores a notification for the user and streams it to open
// websocket connections. Push is attempted when push is true.
func (d *Dispatcher) Notify(ctx context.Context, n *models.Notification, push bool) error {
	if err := d.store.CreateNotification(ctx, n); err != nil {
		d.metrics.RecordDelivery(ChannelInApp, "failed")
		return fmt.Errorf("store notification: %w", err)
	}
	d.metrics.RecordDelivery(ChannelInApp, "delivered")
	d.publish(n.UserID, n)
	if push {
		d.push(ctx, n.UserID, n.Title, n.Message, map[string]string{"type": n.Type})
	}
	return nil
}

func (d *Dispatcher) publish(userID uint, n *models.Notification) {
	if d.hub == nil {
		return
	}
	delivered, err := d.hub.Publish(userID, Event{Type: EventNotification, Notification: n})
	switch {
	case err != nil:
		d.log.Errorf("publish notification to user %d: %v", userID, err)
		d.metrics.RecordDelivery(ChannelWeb, "failed")
	case delivered == 0:
		d.metrics.RecordDelivery(ChannelWeb, "offline")
	default:
		d.metrics.RecordDelivery(ChannelWeb, "delivered")
	}
}

func (d *Dispatcher) push(ctx context.Context, userID uint, title, body string, data map[string]string) {
	if d.pusher == nil {
		d.metrics.RecordDelivery(ChannelPush, "disabled")
		return
	}
	devices, err := d.store.ListDevices(ctx, userID)
	if err != nil {
		d.log.Errorf("list devices for user %d: %v", userID, err)
		d.metrics.RecordDelivery(ChannelPush, "failed")
		return
	}
	if len(devices) == 0 {
		d.metrics.RecordDelivery(ChannelPush, "no_devices")
		return
	}
	tokens := make([]string, 0, len(devices))
	for _, dev := range devices {
		tokens = append(tokens, dev.Token)
	}

	invalid, err := d.pusher.Push(ctx, tokens, title, body, data)
	for _, token := range invalid {
		if cerr := d.store.DeleteDeviceByToken(ctx, token); cerr != nil {
			d.log.Errorf("remove invalid push token: %v", cerr)
		} else {
			d.log.Infof("removed invalid push token for user %d", userID)
		}
	}
	if err != nil {
		d.log.Warnf("push to user %d: %v", userID, err)
		d.metrics.RecordDelivery(ChannelPush, "failed")
		return
	}
	d.metrics.RecordDelivery(ChannelPush, "delivered")
}

func (d *Dispatcher) email(ctx context.Context, user models.User, subject, body string) {
	if d.mailer == nil {
		d.metrics.RecordDelivery(ChannelEmail, "disabled")
		return
	}
	if user.Email == "" {
		d.metrics.RecordDelivery(ChannelEmail, "no_address")
		return
	}
	if err := d.mailer.Send(ctx, user.Email, subject, body); err != nil {
		d.log.Warnf("email to user %d: %v", user.ID, err)
		d.metrics.RecordDelivery(ChannelEmail, "failed")
		return
	}
	d.metrics.RecordDelivery(ChannelEmail, "delivered")
}
