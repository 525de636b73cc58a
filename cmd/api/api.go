package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/config"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/billing"
	"github.com/KAsare1/Stockalerts-server/service/cache"
	"github.com/KAsare1/Stockalerts-server/service/coaching"
	"github.com/KAsare1/Stockalerts-server/service/coupons"
	"github.com/KAsare1/Stockalerts-server/service/dashboard"
	"github.com/KAsare1/Stockalerts-server/service/education"
	"github.com/KAsare1/Stockalerts-server/service/metrics"
	"github.com/KAsare1/Stockalerts-server/service/notifications"
	"github.com/KAsare1/Stockalerts-server/service/portfolio"
	"github.com/KAsare1/Stockalerts-server/service/preferences"
	"github.com/KAsare1/Stockalerts-server/service/stockalerts"
	"github.com/KAsare1/Stockalerts-server/service/user"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators chosen by main. Optional ones may be nil.
type Deps struct {
	Store   db.Storage
	Cache   cache.Cache
	Metrics *metrics.Recorder
	Pusher  notifications.Pusher
	Mailer  notifications.Mailer
	Chat    coaching.Chat
	Gateway billing.Gateway
}

type APIServer struct {
	cfg        *config.Config
	deps       Deps
	log        *logrus.Logger
	sessions   *utils.Sessions
	hub        *notifications.Hub
	dispatcher *notifications.Dispatcher
	scanner    *notifications.Scanner
	prices     *billing.PriceTable
}

func NewApiServer(cfg *config.Config, deps Deps, log *logrus.Logger) (*APIServer, error) {
	prices, err := billing.NewPriceTable(cfg.Stripe.Prices)
	if err != nil {
		return nil, err
	}
	hub := notifications.NewHub(cfg.Server.AllowedOrigins, log)
	dispatcher := notifications.NewDispatcher(deps.Store, hub, deps.Pusher, deps.Mailer, deps.Metrics, cfg.Alerts.DispatchTimeout, log)
	return &APIServer{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		sessions:   utils.NewSessions(cfg.Auth.SecretKey, cfg.Auth.SessionTTL, cfg.Auth.CookieSecure, deps.Store, log),
		hub:        hub,
		dispatcher: dispatcher,
		scanner:    notifications.NewScanner(deps.Store, dispatcher, deps.Metrics, log),
		prices:     prices,
	}, nil
}

// Handler builds the full HTTP handler: API routes under /api, health and metrics,
// wrapped in CORS, access logging and panic recovery.
func (s *APIServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.deps.Metrics.Middleware)
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")

	subrouter := router.PathPrefix("/api").Subrouter()

	user.NewHandler(s.deps.Store, s.sessions, s.log).RegisterRoutes(subrouter)
	stockalerts.NewHandler(s.deps.Store, s.sessions, s.deps.Cache, s.cfg.Alerts.NearingTTL, s.scanner, s.log).RegisterRoutes(subrouter)
	portfolio.NewHandler(s.deps.Store, s.sessions, s.deps.Cache, s.cfg.Alerts.SummaryTTL, s.log).RegisterRoutes(subrouter)
	preferences.NewHandler(s.deps.Store, s.sessions, s.log).RegisterRoutes(subrouter)
	notifications.NewHandler(s.deps.Store, s.sessions, s.hub, s.dispatcher, s.scanner, s.log).RegisterRoutes(subrouter)
	education.NewHandler(s.deps.Store, s.sessions, s.log).RegisterRoutes(subrouter)
	coaching.NewHandler(s.deps.Store, s.sessions, s.deps.Chat, s.dispatcher, s.log).RegisterRoutes(subrouter)
	coupons.NewHandler(s.deps.Store, s.sessions, s.log).RegisterRoutes(subrouter)
	billing.NewHandler(s.deps.Store, s.sessions, s.deps.Gateway, s.prices, s.cfg.Stripe.WebhookSecret, s.dispatcher, s.deps.Metrics, s.log).RegisterRoutes(subrouter)
	dashboard.NewDashboardHandler(s.deps.Store, s.sessions, s.log).RegisterRoutes(subrouter)

	var h http.Handler = router
	h = handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Stripe-Signature"}),
		handlers.AllowCredentials(),
	)(h)
	h = handlers.CustomLoggingHandler(s.log.Out, h, s.accessLog)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(s.log), handlers.PrintRecoveryStack(true))(h)
	return h
}

// accessLog writes one structured line per request. A session token passed in the
// query string is redacted.
func (s *APIServer) accessLog(_ io.Writer, p handlers.LogFormatterParams) {
	s.log.WithFields(logrus.Fields{
		"method":      p.Request.Method,
		"uri":         redactedURI(p.URL),
		"status":      p.StatusCode,
		"size":        p.Size,
		"duration_ms": time.Since(p.TimeStamp).Milliseconds(),
		"remote":      p.Request.RemoteAddr,
		"user_agent":  p.Request.UserAgent(),
	}).Info("request")
}

func redactedURI(u url.URL) string {
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.RequestURI()
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until ctx is cancelled, then drains connections for up to the
// configured shutdown timeout.
func (s *APIServer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.scanner.Start(ctx, s.cfg.Alerts.ScanInterval)
	}()

	server := &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Infof("Server running at %s", server.Addr)
		errs <- server.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		s.log.Info("Shutting down server...")
		shutdownCtx, stop := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer stop()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			err = fmt.Errorf("shutdown: %w", shutdownErr)
		}
	}

	cancel()
	wg.Wait()
	s.log.Info("Server stopped")
	return err
}
