package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alarmapp "chrona-engine/internal/alarms/application"
	alarmrepo "chrona-engine/internal/alarms/infrastructure/postgres"
	alarmhttp "chrona-engine/internal/alarms/interfaces/http"
	alarmnotify "chrona-engine/internal/alarms/notify"
	apihttp "chrona-engine/internal/api/http"
	"chrona-engine/internal/audio"
	"chrona-engine/internal/audit"
	"chrona-engine/internal/auth"
	"chrona-engine/internal/dispatch"
	"chrona-engine/internal/engine"
	"chrona-engine/internal/eventing"
	eventingrepo "chrona-engine/internal/eventing/infrastructure/postgres"
	"chrona-engine/internal/mission"
	"chrona-engine/internal/observability/metrics"
	"chrona-engine/internal/presentation"
	"chrona-engine/internal/scheduler"
	schedmemory "chrona-engine/internal/scheduler/memory"
	"chrona-engine/internal/sequencer"
	"chrona-engine/internal/statestore"
	statestorepg "chrona-engine/internal/statestore/postgres"
	"chrona-engine/internal/wakecheck"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := engine.LoadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	records := statestore.NewRecords(statestorepg.NewStore(db))

	alarmRepo := alarmrepo.NewAlarmRepository(db)
	alarmNotifiers := []alarmapp.AlarmNotifier{}
	if cfg.AlarmWebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.AlarmWebhookURL)
		if err != nil {
			logger.Fatalf("alarm webhook error: %v", err)
		}
		tpl, err := alarmnotify.NewTemplate(cfg.AlarmNotifyTemplate)
		if err != nil {
			logger.Fatalf("alarm template error: %v", err)
		}
		notifier, err := alarmnotify.NewNotifier(channel, tpl,
			alarmnotify.WithCooldown(getenvDuration("ALARM_NOTIFY_COOLDOWN", 0)),
			alarmnotify.WithDedupeWindow(getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", 0)),
		)
		if err != nil {
			logger.Fatalf("alarm notifier error: %v", err)
		}
		alarmNotifiers = append(alarmNotifiers, notifier)
	}
	alarmService, err := alarmapp.NewService(alarmRepo, alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(alarmNotifiers...)))
	if err != nil {
		logger.Fatalf("alarm service error: %v", err)
	}

	registry := eventing.NewRegistry()
	registry.Register(mission.MissionCompleted{})
	registry.Register(mission.MissionFailed{})
	registry.Register(mission.SessionAbandoned{})
	registry.Register(wakecheck.WakeCheckAcknowledged{})
	registry.Register(wakecheck.WakeCheckLapsed{})
	registry.Register(sequencer.SequenceCompleted{})
	registry.Register(sequencer.SequenceFailed{})
	bus := eventing.NewInMemoryBus()
	publisher := eventing.NewPublisher(bus)

	dispatcher, err := dispatch.NewDispatcher(records, alarmService, logger,
		dispatch.WithProcessedStore(processedStore),
		dispatch.WithDismissWindow(cfg.Timing.DismissWindow()),
		dispatch.WithAckWindow(cfg.Timing.AckWindow()),
	)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}

	// The scheduler sink closes over the engine service built right after.
	var engineService *engine.Service
	sched := schedmemory.NewScheduler(func(ctx context.Context, req scheduler.Request) {
		if engineService == nil {
			return
		}
		ev := dispatch.TriggerEvent{
			AlarmID:  req.AlarmID,
			Kind:     req.Kind,
			Token:    triggerToken(req),
			OccursAt: req.At,
			Snapshot: req.Snapshot,
		}
		if err := engineService.HandleTrigger(ctx, ev); err != nil {
			logger.Printf("trigger handling failed alarm_id=%d kind=%s err=%v", req.AlarmID, req.Kind, err)
		}
	})
	defer sched.Stop()

	engineService, err = engine.NewService(
		records,
		alarmService,
		dispatcher,
		sched,
		audio.LoggingChannel{Logger: logger},
		presentation.LoggingPresenter{Logger: logger},
		publisher,
		logger,
		engine.WithAuditor(sessionAuditor{repo: auditRepo}),
		engine.WithSessionRunners(true),
		engine.WithGateOptions(
			wakecheck.WithWindow(cfg.Timing.GateWindow()),
			wakecheck.WithAckWindow(cfg.Timing.AckWindow()),
		),
	)
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}
	engineService.WireEvents(bus, processedStore)
	wireOutcomeAudit(bus, registry, auditRepo, processedStore, logger)

	if err := engineService.Recover(context.Background()); err != nil {
		logger.Fatalf("recover error: %v", err)
	}

	alarmHandler, err := alarmhttp.NewHandler(alarmService, records, engineService, engineService.Sequencer())
	if err != nil {
		logger.Fatalf("alarm handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/wakecheck/", apihttp.NewAckHandler(engineService.Gate()))
	mux.Handle("/api/v1/reports/", apihttp.NewReportHandler(auditRepo))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

// wireOutcomeAudit mirrors wake-check outcomes into the audit log. The
// registry round-trips the envelope payload so malformed events surface here
// instead of landing half-decoded in the log.
func wireOutcomeAudit(bus eventing.EventBus, registry *eventing.Registry, auditRepo *audit.Repository, processed eventing.ProcessedStore, logger *log.Logger) {
	record := func(action string) eventing.EventHandler {
		return func(ctx context.Context, event any) error {
			env, ok := eventing.EnvelopeFromContext(ctx)
			if !ok {
				env.Payload, _ = json.Marshal(event)
			}
			if registry != nil && len(env.Payload) > 0 && env.EventType != "" {
				if _, err := registry.DecodePayload(env); err != nil {
					logger.Printf("audit decode failed type=%s err=%v", env.EventType, err)
				}
			}
			return auditRepo.Log(ctx, audit.Entry{
				AlarmID:  env.AlarmID,
				Action:   action,
				Metadata: env.Payload,
			})
		}
	}
	eventing.Subscribe(bus, eventing.EventTypeOf[wakecheck.WakeCheckAcknowledged](), "audit.wakecheck_ack", record("wakecheck.acknowledged"), processed)
	eventing.Subscribe(bus, eventing.EventTypeOf[wakecheck.WakeCheckLapsed](), "audit.wakecheck_lapse", record("wakecheck.lapsed"), processed)
	eventing.Subscribe(bus, eventing.EventTypeOf[sequencer.SequenceFailed](), "audit.sequence_failed", record("sequence.failed"), processed)
}

// triggerToken identifies one scheduled delivery so exact redeliveries can
// be absorbed by the processed store.
func triggerToken(req scheduler.Request) string {
	return req.Kind + "-" + req.At.UTC().Format(time.RFC3339) + "-" + strconv.Itoa(req.AlarmID)
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ---- Adapters ----

// sessionAuditor adapts the audit repository to the session audit port.
type sessionAuditor struct {
	repo *audit.Repository
}

func (a sessionAuditor) RecordSession(ctx context.Context, alarmID int, action, detail string) error {
	if a.repo == nil {
		return nil
	}
	return a.repo.Log(ctx, audit.Entry{AlarmID: alarmID, Action: action, Detail: detail})
}
