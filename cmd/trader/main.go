package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"trendtrader/config"
	"trendtrader/internal/api"
	"trendtrader/internal/broker"
	"trendtrader/internal/events"
	"trendtrader/internal/execution"
	"trendtrader/internal/logger"
	"trendtrader/internal/marketdata"
	"trendtrader/internal/marketdata/stream"
	"trendtrader/internal/markethours"
	"trendtrader/internal/metrics"
	"trendtrader/internal/model"
	"trendtrader/internal/notification"
	"trendtrader/internal/session"
	pgstore "trendtrader/internal/store/postgres"
	redisstore "trendtrader/internal/store/redis"
	sqlitestore "trendtrader/internal/store/sqlite"
	"trendtrader/pkg/smartconnect"
)

const (
	barInterval   = 5 * time.Minute
	streamMaxAge  = 10 * time.Second
	livenessEvery = 10 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	os.Exit(run())
}

// account is one broker user and the ports its sessions trade through.
type account struct {
	sess   *broker.Session
	data   model.MarketDataSource
	orders model.OrderGateway
	funds  model.Funds
}

func run() int {
	// ---- Load config from env (+ .env) ----
	cfg, err := config.Load()
	if err != nil {
		log.Printf("[trader] config: %v", err)
		return 1
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Printf("[trader] %v, using info", err)
	}
	slogger := logger.New(logger.Config{Service: "trader", Level: level, Format: cfg.LogFormat})
	slog.SetDefault(slogger)
	markethours.AddHolidays(cfg.Holidays...)
	slogger.Info("starting", "mode", cfg.Mode, "price_source", cfg.PriceSource, "market", markethours.StatusString(time.Now()))

	// ---- Sessions and the accounts they trade on ----
	var (
		sessCfgs []session.Config
		file     *config.StrategyFile
	)
	if cfg.StrategyFile != "" {
		if file, err = config.LoadStrategies(cfg.StrategyFile); err != nil {
			log.Printf("[trader] %v", err)
			return 1
		}
		sessCfgs = file.Sessions
	} else if sessCfgs, err = cfg.SessionsFromEnv(); err != nil {
		log.Printf("[trader] %v", err)
		return 1
	}
	creds, err := accountCredentials(sessCfgs, file, cfg.Credentials())
	if err != nil {
		log.Printf("[trader] %v", err)
		return 1
	}

	// ---- Context for graceful shutdown ----
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Stop(sctx)
	}()

	// ---- SQLite ledger + bar cache ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Printf("[trader] data dir: %v", err)
		return 1
	}
	db, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Printf("[trader] sqlite init failed: %v", err)
		return 1
	}
	defer db.Close()
	sqlLedger := sqlitestore.NewLedger(db)
	var (
		ledger model.Ledger      = sqlLedger
		trades model.TradeReader = sqlLedger
	)
	barCache := sqlitestore.NewBarCache(db)

	if cfg.PostgresDSN != "" {
		pg, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Printf("[trader] postgres init failed: %v", err)
			return 1
		}
		defer pg.Close()
		ledger, trades = pg, pg
		log.Println("[trader] ledger: postgres")
	}

	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Printf("[trader] journal init failed: %v", err)
		return 1
	}
	defer journal.Close()

	// ---- Trade events ----
	fanout := events.NewFanOut(256)
	fanout.OnDrop = func(sink string) {
		log.Printf("[trader] %s event queue full", sink)
		prom.EventDropped(sink)
	}

	// ---- Redis (optional) ----
	var (
		redisPub *redisstore.Publisher
		redisSrc *redisstore.Source
	)
	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		log.Printf("[trader] WARNING: redis init failed: %v (continuing without redis)", err)
	}
	if rdb != nil {
		defer rdb.Close()
		redisPub = redisstore.NewPublisher(rdb)

		readCB := redisstore.NewCircuitBreaker(5, 10*time.Second)
		redisstore.WatchBreaker(readCB, prom)
		redisSrc = redisstore.NewSource(rdb, readCB, barInterval)

		writeCB := redisstore.NewCircuitBreaker(5, 10*time.Second)
		redisstore.WatchBreaker(writeCB, nil)
		fanout.Add("redis", redisstore.NewBufferedPublisher(redisPub, writeCB, 0))
	}
	if cfg.AMQPURI != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURI, cfg.AMQPExchange)
		if err != nil {
			log.Printf("[trader] WARNING: amqp init failed: %v (continuing without amqp)", err)
		} else {
			defer amqpPub.Close()
			fanout.Add("amqp", amqpPub)
		}
	}
	eventsDone := make(chan struct{})
	go func() {
		fanout.Run(ctx)
		close(eventsDone)
	}()
	go fanout.ReportStats(ctx, livenessEvery, func(st events.QueueStat) { prom.EventQueue(st.Name, st.Len) })

	// ---- Broker accounts ----
	// Every user gets its own logged-in session, price source and, in live
	// mode, its own gateway and funds.
	needBroker := cfg.Mode == config.ModeLive || cfg.PriceSource != "redis"
	var shared model.MarketDataSource
	if cfg.PriceSource == "redis" {
		if redisSrc == nil {
			log.Printf("[trader] PRICE_SOURCE=redis but redis is unavailable")
			return 1
		}
		shared = marketdata.NewCached(redisSrc, barCache, barInterval)
	}
	paper := execution.NewPaperGateway(cfg.SlippageBps)

	accounts := make(map[string]*account, len(creds))
	for _, code := range sortedKeys(creds) {
		acct := &account{data: shared, orders: paper, funds: execution.StaticFunds(cfg.PaperCash)}
		if needBroker {
			if err := creds[code].Validate(); err != nil {
				log.Printf("[trader] user %q: %v", code, err)
				return 1
			}
			sess := broker.NewSession(creds[code], nil)
			sess.OnLogin = func() { health.SetBrokerLoggedIn(true) }
			if err := sess.Login(ctx); err != nil {
				log.Printf("[trader] broker login failed for %s: %v", code, err)
				return 1
			}
			defer sess.Logout(context.Background())
			acct.sess = sess
		}
		if acct.data == nil {
			src, err := buildSource(ctx, cfg, acct.sess, instrumentsOf(sessCfgs, code), prom, health)
			if err != nil {
				log.Printf("[trader] market data for %s: %v", code, err)
				return 1
			}
			if redisPub != nil {
				src = &redisstore.Mirror{MarketDataSource: src, Pub: redisPub, TF: barInterval}
			}
			acct.data = marketdata.NewCached(src, barCache, barInterval)
		}
		if cfg.Mode == config.ModeLive {
			acct.orders = broker.NewGateway(acct.sess)
			acct.funds = acct.sess
		}
		accounts[code] = acct
		log.Printf("[trader] account %s ready (%d sessions)", code, len(instrumentsOf(sessCfgs, code)))
	}

	// ---- Notifications ----
	var remote notification.Multi
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		remote = append(remote, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		remote = append(remote, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	alertLevel, err := notification.ParseLevel(cfg.AlertMinLevel)
	if err != nil {
		log.Printf("[trader] ALERT_MIN_LEVEL: %v", err)
		return 1
	}
	notifier := notification.Multi{
		notification.NewLogNotifier(),
		notification.MinLevel{Level: alertLevel, Next: remote},
	}

	// ---- Sessions ----
	sup := session.NewSupervisor(slogger)
	var groups []api.Group
	for _, sc := range sessCfgs {
		acct := accounts[sc.User]
		groupID := uuid.NewString()
		groups = append(groups, api.Group{GroupID: groupID, Instrument: sc.Instrument.Key(), StrategyRef: sc.StrategyRef})
		s, err := session.New(sc, session.Deps{
			Data:       acct.data,
			Orders:     &execution.Journaled{OrderGateway: acct.orders, Journal: journal, GroupID: groupID},
			Ledger:     ledger,
			Funds:      acct.funds,
			Clock:      markethours.Trading,
			Events:     fanout,
			Notifier:   notifier,
			Metrics:    prom,
			Health:     health,
			Logger:     slogger.With("user", sc.User),
			NewGroupID: func() string { return groupID },
		})
		if err != nil {
			log.Printf("[trader] session %s: %v", sc.Instrument.Key(), err)
			return 1
		}
		sup.Add(sc.Instrument.Key(), s)
	}

	health.StartLivenessChecker(ctx, rdb, db, livenessEvery)

	if cfg.APIAddr != "" {
		apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: api.NewRouter(groups, trades), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("[trader] api listening on %s", cfg.APIAddr)
			if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("[trader] api server error: %v", err)
			}
		}()
		defer apiSrv.Close()
	}

	results := sup.Run(ctx)
	stop()
	<-eventsDone

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			slogger.Error("session failed", "instrument", r.Instrument, "err", r.Err)
		}
	}
	slogger.Info("all sessions finished", "sessions", len(results), "failed", failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// accountCredentials resolves the credentials of every user the sessions
// reference. Sessions without a user are bound to the env account.
func accountCredentials(sessions []session.Config, file *config.StrategyFile, env broker.Credentials) (map[string]broker.Credentials, error) {
	out := make(map[string]broker.Credentials)
	for i := range sessions {
		sc := &sessions[i]
		if sc.User == "" {
			sc.User = env.ClientCode
		}
		if _, ok := out[sc.User]; ok {
			continue
		}
		var (
			c     broker.Credentials
			found bool
		)
		if file != nil {
			c, found = file.User(sc.User)
		}
		if !found && sc.User == env.ClientCode {
			c, found = env, true
		}
		if !found {
			return nil, fmt.Errorf("session %s: no credentials for user %q", sc.Instrument.Key(), sc.User)
		}
		out[sc.User] = c
	}
	return out, nil
}

func instrumentsOf(sessions []session.Config, user string) []model.Instrument {
	var out []model.Instrument
	for _, sc := range sessions {
		if sc.User == user {
			out = append(out, sc.Instrument)
		}
	}
	return out
}

func sortedKeys(m map[string]broker.Credentials) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildSource builds one account's price source: broker REST polling, or
// the LTP stream over it.
func buildSource(ctx context.Context, cfg *config.Config, sess *broker.Session, insts []model.Instrument,
	prom *metrics.Metrics, health *metrics.HealthStatus) (model.MarketDataSource, error) {
	base, err := broker.NewDataSource(sess, barInterval)
	if err != nil {
		return nil, err
	}
	if cfg.PriceSource != "stream" && !cfg.UseStream {
		return base, nil
	}

	client := sess.Client()
	ws, err := smartconnect.NewStream(smartconnect.StreamConfig{
		AuthToken:  client.AccessToken(),
		APIKey:     client.APIKey(),
		ClientCode: sess.ClientCode(),
		FeedToken:  client.FeedToken(),
	})
	if err != nil {
		return nil, err
	}
	feed := stream.NewFeed(base, streamMaxAge, prom, health)
	ws.OnTick = feed.OnTick
	ws.OnState = feed.OnState

	if err := stream.Subscribe(ws, insts); err != nil {
		return nil, err
	}
	go func() {
		if err := ws.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[trader] price stream stopped: %v (falling back to polling)", err)
		}
	}()
	return feed, nil
}

func connectRedis(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	return redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
