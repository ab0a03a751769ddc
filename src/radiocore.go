package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/promptfm/radiocore/src/broadcast"
	"github.com/promptfm/radiocore/src/config"
	"github.com/promptfm/radiocore/src/data"
	"github.com/promptfm/radiocore/src/discordbot"
	"github.com/promptfm/radiocore/src/engine"
	"github.com/promptfm/radiocore/src/generation"
	"github.com/promptfm/radiocore/src/lifecycle"
	"github.com/promptfm/radiocore/src/moderation"
	"github.com/promptfm/radiocore/src/reputation"
	"github.com/promptfm/radiocore/src/runtime"
	"github.com/promptfm/radiocore/src/scoring"
	"github.com/promptfm/radiocore/src/selector"
	"github.com/promptfm/radiocore/src/webserver"
)

func main() {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "radio:radio@tcp(127.0.0.1:3306)/radiocore"
	}
	db := data.MustMySQL(mysqlDSN)
	if err := data.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	cfg := config.Load(db)
	rdb := data.MustRedis(cfg.RedisURL)
	events := data.NewStreamPublisher(rdb)

	repService := reputation.NewService(reputation.NewGormStore(db))
	store := data.NewRequestStore(db)
	machine := lifecycle.NewMachine(store, repService, events, cfg.RetryLimit, cfg.RetryBackoff)

	patterns, err := moderation.NewPatternFilter(bannedTerms())
	if err != nil {
		log.Fatalf("moderation patterns: %v", err)
	}
	gate := moderation.NewGate(
		patterns,
		moderation.NewClient(cfg.ModerationAPIKey, cfg.ModerationAPIURL, cfg.ModerationTimeout),
		moderation.NewLLMClassifier(cfg.ClassifierAPIKey, cfg.ClassifierAPIURL, cfg.ClassifierModel, cfg.ModerationTimeout),
		moderation.NewAuditor(db),
		cfg.ModerationTimeout,
	)
	violations := moderation.NewViolationTracker(db, rdb)

	scorer := scoring.NewScorer(scoring.DefaultWeights())
	sel := selector.New(store, machine, scorer, selector.NewRedisHistory(rdb))
	provider := generation.NewClient(cfg.GenerationAPIKey, cfg.GenerationAPIURL)
	controller := broadcast.NewHTTPController(cfg.BroadcastAPIURL)

	eng := engine.New(db, store, machine, repService, violations, events)

	manager := runtime.NewManager(
		moderation.NewWorker(store, machine, gate, violations, 2*time.Second, 8),
		generation.NewDispatcher(store, machine, sel, provider, cfg.DispatchInterval, cfg.DwellTimeout, 4),
		broadcast.NewWatcher(store, machine, controller, 2*time.Second),
	)
	if cfg.DiscordToken != "" {
		bot, err := discordbot.New(cfg.DiscordToken, db, eng)
		if err != nil {
			log.Fatalf("discordbot: %v", err)
		}
		if err := manager.Add(bot); err != nil {
			log.Fatalf("discordbot: %v", err)
		}
	} else {
		log.Printf("discord ingestion disabled (no token configured)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("services: %v", err)
	}

	router := webserver.New(webserver.Deps{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		Engine:  eng,
		Scorer:  scorer,
		Auditor: moderation.NewAuditor(db),
	})
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()
	log.Printf("radiocore listening on %s", cfg.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
	manager.Stop(shutCtx)
}

// bannedTerms merges the operator-configured list with the stock one.
func bannedTerms() []string {
	terms := append([]string(nil), moderation.DefaultBannedTerms...)
	if extra := data.GetSetting("banned_terms"); extra != "" {
		for _, t := range strings.Split(extra, ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
	}
	return terms
}
