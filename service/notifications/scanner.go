package notifications

import (
	"context"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/analytics"
	"github.com/KAsare1/Stockalerts-server/service/metrics"
	"github.com/sirupsen/logrus"
)

type ScanStore interface {
	ListStockAlerts(ctx context.Context, f db.StockAlertFilter) ([]models.StockAlert, error)
	ListAlertPreferencesForStock(ctx context.Context, stockAlertID uint) ([]models.PreferenceWithUser, error)
}

// Scanner evaluates alert preferences against current prices and dispatches the matches.
type Scanner struct {
	store      ScanStore
	dispatcher *Dispatcher
	metrics    *metrics.Recorder
	log        *logrus.Logger
}

func NewScanner(store ScanStore, dispatcher *Dispatcher, rec *metrics.Recorder, log *logrus.Logger) *Scanner {
	return &Scanner{store: store, dispatcher: dispatcher, metrics: rec, log: log}
}

// ScanAlert evaluates the preferences attached to one alert.
func (s *Scanner) ScanAlert(ctx context.Context, alert models.StockAlert) (Summary, error) {
	sum := Summary{Alerts: 1}
	if !alert.IsActive() {
		return sum, nil
	}
	prefs, err := s.store.ListAlertPreferencesForStock(ctx, alert.ID)
	if err != nil {
		return sum, err
	}
	triggers := analytics.EvaluateTriggers(alert, prefs)
	if len(triggers) == 0 {
		return sum, nil
	}
	sum.add(s.dispatcher.Dispatch(ctx, triggers))
	return sum, nil
}

// ScanAll evaluates every active alert. An alert that cannot be scanned is
// logged and counted as failed; the rest still run.
func (s *Scanner) ScanAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() { s.metrics.RecordScan(time.Since(start)) }()

	alerts, err := s.store.ListStockAlerts(ctx, db.StockAlertFilter{Status: models.AlertStatusActive})
	if err != nil {
		return Summary{}, err
	}

	var total Summary
	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		sum, err := s.ScanAlert(ctx, alert)
		if err != nil {
			s.log.Errorf("scan alert %d (%s): %v", alert.ID, alert.Symbol, err)
			sum.Failed++
		}
		total.add(sum)
	}
	s.log.WithFields(logrus.Fields{
		"alerts":     total.Alerts,
		"emitted":    total.Emitted,
		"suppressed": total.Suppressed,
		"failed":     total.Failed,
	}).Info("alert trigger scan finished")
	return total, nil
}

// Start runs ScanAll every interval until ctx is done. A non-positive interval disables it.
func (s *Scanner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ScanAll(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorf("scheduled alert scan: %v", err)
			}
		}
	}
}
