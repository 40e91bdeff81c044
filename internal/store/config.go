package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModePaper = "PAPER"
	ModeLive  = "LIVE"

	PaperPort = 7497
	LivePort  = 7496
)

// Duration accepts "2.5s" style strings in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	URL      string `yaml:"url"` // websocket endpoint; derived from host/port when empty
	ClientID int    `yaml:"client_id"`
	Account  string `yaml:"account"`
	Timeouts struct {
		Connect        Duration `yaml:"connect"`
		Request        Duration `yaml:"request"`
		TwoStep        Duration `yaml:"two_step"`
		SnapshotWindow Duration `yaml:"snapshot_window"`
		OrderAck       Duration `yaml:"order_ack"`
	} `yaml:"timeouts"`
	Heartbeat Duration `yaml:"heartbeat"`
}

type TradingConfig struct {
	Budget          float64  `yaml:"budget"`
	ConfidenceFloor float64  `yaml:"confidence_floor"`
	Interval        Duration `yaml:"interval"`
	MarketOpen      string   `yaml:"market_open"`
	MarketClose     string   `yaml:"market_close"`
	Timezone        string   `yaml:"timezone"`
	InterOrderDelay Duration `yaml:"inter_order_delay"`
	OrderType       string   `yaml:"order_type"`
}

type RankingConfig struct {
	BatchSize  int      `yaml:"batch_size"`
	BatchDelay Duration `yaml:"batch_delay"`
	Mode       string   `yaml:"mode"`
	CacheTTL   Duration `yaml:"cache_ttl"`
	BarsDays   int      `yaml:"bars_days"`
	NewsLimit  int      `yaml:"news_limit"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	System      string  `yaml:"system"`
}

type NewsConfig struct {
	Enabled   bool     `yaml:"enabled"`
	SourceURL string   `yaml:"source_url"` // %s is replaced by the ticker
	Selector  string   `yaml:"selector"`
	UserAgent string   `yaml:"user_agent"`
	Timeout   Duration `yaml:"timeout"`
	MaxItems  int      `yaml:"max_items"`
}

type Config struct {
	Mode      string        `yaml:"mode"`
	Broker    BrokerConfig  `yaml:"broker"`
	Trading   TradingConfig `yaml:"trading"`
	Ranking   RankingConfig `yaml:"ranking"`
	LLM       LLMConfig     `yaml:"llm"`
	News      NewsConfig    `yaml:"news"`
	Watchlist []string      `yaml:"watchlist"`
	TradeLog  string        `yaml:"trade_log"`
	Metrics   struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

func (c *Config) Validate() error {
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode '%s': must be 'PAPER' or 'LIVE'", c.Mode)
	}
	if c.Broker.Host == "" && c.Broker.URL == "" {
		return errors.New("broker.host or broker.url is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port out of range: %d", c.Broker.Port)
	}
	if c.Trading.Budget <= 0 {
		return fmt.Errorf("trading.budget must be positive, got %.2f", c.Trading.Budget)
	}
	if c.Trading.ConfidenceFloor < 0 || c.Trading.ConfidenceFloor > 100 {
		return fmt.Errorf("trading.confidence_floor must be between 0-100, got %.2f", c.Trading.ConfidenceFloor)
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}
	if _, _, err := ParseClock(c.Trading.MarketOpen); err != nil {
		return fmt.Errorf("trading.market_open: %w", err)
	}
	if _, _, err := ParseClock(c.Trading.MarketClose); err != nil {
		return fmt.Errorf("trading.market_close: %w", err)
	}
	if c.Trading.OrderType != "MKT" && c.Trading.OrderType != "LMT" {
		return fmt.Errorf("trading.order_type must be 'MKT' or 'LMT', got '%s'", c.Trading.OrderType)
	}
	if c.Ranking.BatchSize <= 0 {
		return fmt.Errorf("ranking.batch_size must be positive, got %d", c.Ranking.BatchSize)
	}
	return nil
}

// LoadConfig reads path, applies defaults and environment overrides, then validates.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.Mode = strings.ToUpper(c.Mode)
	if c.Mode == "" {
		c.Mode = ModePaper
	}
	applyEnv(&c)
	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("IB_HOST"); v != "" {
		c.Broker.Host = v
	}
	if v := os.Getenv("IB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Broker.Port = n
		}
	}
	if v := os.Getenv("IB_CLIENT_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Broker.ClientID = n
		}
	}
	if v := os.Getenv("IB_ACCOUNT"); v != "" {
		c.Broker.Account = v
	}
	if v := os.Getenv("IB_WS_URL"); v != "" {
		c.Broker.URL = v
	}
}

func applyDefaults(c *Config) {
	b := &c.Broker
	if b.Host == "" && b.URL == "" {
		b.Host = "127.0.0.1"
	}
	if b.Port == 0 {
		b.Port = PaperPort
		if c.Mode == ModeLive {
			b.Port = LivePort
		}
	}
	if b.URL == "" {
		b.URL = fmt.Sprintf("ws://%s:%d/v1/api/ws", b.Host, b.Port)
	}
	setDur(&b.Timeouts.Connect, 30*time.Second)
	setDur(&b.Timeouts.Request, 10*time.Second)
	setDur(&b.Timeouts.TwoStep, 20*time.Second)
	setDur(&b.Timeouts.SnapshotWindow, 2500*time.Millisecond)
	setDur(&b.Timeouts.OrderAck, 5*time.Second)
	setDur(&b.Heartbeat, 30*time.Second)

	t := &c.Trading
	if t.Budget == 0 {
		t.Budget = 1000
	}
	if t.ConfidenceFloor == 0 {
		t.ConfidenceFloor = 70
	}
	setDur(&t.Interval, 15*time.Minute)
	if t.MarketOpen == "" {
		t.MarketOpen = "09:30"
	}
	if t.MarketClose == "" {
		t.MarketClose = "16:00"
	}
	if t.Timezone == "" {
		t.Timezone = "America/New_York"
	}
	setDur(&t.InterOrderDelay, time.Second)
	t.OrderType = strings.ToUpper(t.OrderType)
	if t.OrderType == "" {
		t.OrderType = "MKT"
	}

	r := &c.Ranking
	if r.BatchSize == 0 {
		r.BatchSize = 3
	}
	setDur(&r.BatchDelay, 2*time.Second)
	if r.Mode == "" {
		r.Mode = "swing"
	}
	setDur(&r.CacheTTL, 5*time.Minute)
	if r.BarsDays == 0 {
		r.BarsDays = 30
	}
	if r.NewsLimit == 0 {
		r.NewsLimit = 10
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "NOOP"
	}
	c.LLM.Provider = strings.ToUpper(c.LLM.Provider)
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 400
	}

	setDur(&c.News.Timeout, 10*time.Second)
	if c.News.MaxItems == 0 {
		c.News.MaxItems = 20
	}
	if c.News.UserAgent == "" {
		c.News.UserAgent = "llm-autotrader/1.0"
	}

	if c.TradeLog == "" {
		c.TradeLog = "logs"
	}
	for i, s := range c.Watchlist {
		c.Watchlist[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

func setDur(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// StaticWatchlist serves the configured watchlist.
type StaticWatchlist struct {
	tickers []string
}

func NewStaticWatchlist(tickers []string) *StaticWatchlist {
	return &StaticWatchlist{tickers: append([]string(nil), tickers...)}
}

func (w *StaticWatchlist) ListTickers(_ context.Context) ([]string, error) {
	if len(w.tickers) == 0 {
		return nil, errors.New("watchlist is empty")
	}
	return append([]string(nil), w.tickers...), nil
}
