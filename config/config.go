package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trendtrader/internal/model"
)

// Modes for Config.Mode.
const (
	ModeLive  = "live"
	ModePaper = "paper"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Mode string // live or paper

	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPIN        string
	AngelTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	JournalPath   string
	PostgresDSN   string
	AMQPURI       string
	AMQPExchange  string
	MetricsAddr   string
	APIAddr       string

	LogLevel  string
	LogFormat string

	// Instruments is a comma-separated EXCHANGE:TOKEN[:SYMBOL] list used
	// when no strategy file is given.
	Instruments  string
	StrategyFile string

	TradeBudget     int
	CapitalFraction float64
	SlippageBps     int64
	PaperCash       float64 // paper-mode cash when no broker session is available
	UseStream       bool
	PriceSource     string // broker, stream or redis

	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
	AlertMinLevel  string // gates Telegram and webhook alerts; the log gets all

	// Holidays are extra exchange closures (HOLIDAYS=2026-12-31,...) on top
	// of the built-in NSE calendar.
	Holidays []time.Time
}

// Load reads an optional .env file and then the environment. Broker
// credentials are required unless a strategy file supplies users.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env: %v", err)
	}

	c := &Config{
		Mode: strings.ToLower(getEnv("TRADER_MODE", ModePaper)),

		AngelAPIKey:     os.Getenv("ANGEL_API_KEY"),
		AngelClientCode: os.Getenv("ANGEL_CLIENT_CODE"),
		AngelPIN:        os.Getenv("ANGEL_PIN"),
		AngelTOTPSecret: os.Getenv("ANGEL_TOTP_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/ledger.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		AMQPURI:       getEnv("AMQP_URI", ""),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		Instruments:  getEnv("INSTRUMENTS", "NSE:3045:SBIN-EQ"),
		StrategyFile: getEnv("STRATEGY_FILE", ""),

		TradeBudget:     getInt("TRADE_BUDGET", 1),
		CapitalFraction: getFloat("CAPITAL_FRACTION", 0.65),
		SlippageBps:     int64(getInt("PAPER_SLIPPAGE_BPS", 5)),
		PaperCash:       getFloat("PAPER_CASH", 100000),
		UseStream:       getBool("USE_STREAM", false),
		PriceSource:     strings.ToLower(getEnv("PRICE_SOURCE", "broker")),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		AlertMinLevel:  getEnv("ALERT_MIN_LEVEL", "INFO"),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
	}
	days, err := ParseHolidays(getEnv("HOLIDAYS", ""))
	if err != nil {
		return c, err
	}
	c.Holidays = days
	return c, c.Validate()
}

// Validate checks mode and value ranges. Credentials are checked when the
// broker session is built.
func (c *Config) Validate() error {
	var errs []error
	if c.Mode != ModeLive && c.Mode != ModePaper {
		errs = append(errs, fmt.Errorf("TRADER_MODE must be live or paper, got %q", c.Mode))
	}
	switch c.PriceSource {
	case "broker", "stream", "redis":
	default:
		errs = append(errs, fmt.Errorf("PRICE_SOURCE must be broker, stream or redis, got %q", c.PriceSource))
	}
	if c.PriceSource == "redis" && c.RedisAddr == "" {
		errs = append(errs, errors.New("PRICE_SOURCE=redis needs REDIS_ADDR"))
	}
	if c.CapitalFraction <= 0 || c.CapitalFraction > 1 {
		errs = append(errs, fmt.Errorf("CAPITAL_FRACTION must be in (0, 1], got %g", c.CapitalFraction))
	}
	if c.TradeBudget < 0 {
		errs = append(errs, fmt.Errorf("TRADE_BUDGET must be >= 0, got %d", c.TradeBudget))
	}
	return errors.Join(errs...)
}

// ParseInstruments parses the Instruments list, skipping blanks.
func ParseInstruments(s string) ([]model.Instrument, error) {
	var out []model.Instrument
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		inst, err := model.ParseInstrument(p)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if len(out) == 0 {
		return nil, errors.New("no instruments configured")
	}
	return out, nil
}

// ParseHolidays parses a comma-separated list of YYYY-MM-DD dates in IST.
func ParseHolidays(s string) ([]time.Time, error) {
	var out []time.Time
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := model.ParseIST(time.DateOnly, p)
		if err != nil {
			return nil, fmt.Errorf("HOLIDAYS: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}
