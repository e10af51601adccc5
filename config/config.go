package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ProjectDir   string `json:"project_dir"`
	ResultsDir   string `json:"results_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`

	LLMProvider    string `json:"llm_provider"`
	QuickThinkLLM  string `json:"quick_think_llm"`
	BackendURL     string `json:"backend_url"`
	MaxTokens      int    `json:"max_tokens"`
	UseLLMPersonas bool   `json:"use_llm_personas"`

	// Analysts lists producer ids used when a command names none.
	Analysts           []string `json:"analysts"`
	ProducerTimeoutSec int      `json:"producer_timeout_sec"`
	LookbackDays       int      `json:"lookback_days"`

	InitialCash       float64 `json:"initial_cash"`
	MarginRequirement float64 `json:"margin_requirement"`
	MaxPositionPct    float64 `json:"max_position_pct"`
	MaxExposurePct    float64 `json:"max_portfolio_exposure_pct"`

	OnlineTools  bool   `json:"online_tools"`
	CacheEnabled bool   `json:"cache_enabled"`
	PriceSource  string `json:"price_source"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	Debug     bool   `json:"debug"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`

	MetricsAddr   string `json:"metrics_addr"`
	SQLitePath    string `json:"sqlite_path"`
	WatchSchedule string `json:"watch_schedule"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`

	// AI Model API Keys
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key"`

	// Market data API keys
	FinnhubAPIKey string `json:"finnhub_api_key"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	// Override with environment variables if they exist
	cfg.loadFromEnv()

	return cfg
}

// DefaultConfigWithRoot returns the defaults with every directory under root.
// The environment is not consulted.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir:   root,
		ResultsDir:   filepath.Join(root, "results"),
		DataDir:      filepath.Join(root, "data"),
		DataCacheDir: filepath.Join(root, "data", "cache"),

		LLMProvider:   "deepseek",
		QuickThinkLLM: "deepseek-chat",
		MaxTokens:     2048,

		Analysts: []string{
			"warren_buffett", "cathie_wood", "michael_burry", "peter_lynch",
			"technical", "fundamental", "sentiment", "valuation",
		},
		ProducerTimeoutSec: 60,
		LookbackDays:       120,

		InitialCash:       100000,
		MarginRequirement: 0.5,
		MaxPositionPct:    0.2,
		MaxExposurePct:    1.0,

		OnlineTools:  true,
		CacheEnabled: true,
		PriceSource:  "yahoo",

		LogLevel:  "info",
		LogFormat: "console",

		// Eino Debug defaults
		EinoDebugEnabled: false,
		EinoDebugPort:    52538,

		SQLitePath:    filepath.Join(root, "results", "cortexfund.db"),
		WatchSchedule: "CRON_TZ=America/New_York 30 16 * * 1-5",
	}
}

func (c *Config) ProducerTimeout() time.Duration {
	return time.Duration(c.ProducerTimeoutSec) * time.Second
}

func (c *Config) Validate() error {
	var errs []error
	if c.ProjectDir == "" {
		errs = append(errs, errors.New("project_dir is required"))
	}
	switch c.LLMProvider {
	case "deepseek", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm_provider %q is not one of deepseek, openai", c.LLMProvider))
	}
	switch c.PriceSource {
	case "yahoo", "longport", "offline":
	default:
		errs = append(errs, fmt.Errorf("price_source %q is not one of yahoo, longport, offline", c.PriceSource))
	}
	if c.ProducerTimeoutSec <= 0 {
		errs = append(errs, errors.New("producer_timeout_sec must be positive"))
	}
	if c.LookbackDays <= 0 {
		errs = append(errs, errors.New("lookback_days must be positive"))
	}
	if c.InitialCash <= 0 {
		errs = append(errs, errors.New("initial_cash must be positive"))
	}
	if c.MarginRequirement < 0 || c.MarginRequirement > 1 {
		errs = append(errs, errors.New("margin_requirement must be within [0, 1]"))
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		errs = append(errs, errors.New("max_position_pct must be within (0, 1]"))
	}
	if c.MaxExposurePct <= 0 {
		errs = append(errs, errors.New("max_portfolio_exposure_pct must be positive"))
	}
	return errors.Join(errs...)
}

func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	strVars := map[string]*string{
		"PROJECT_DIR":                &c.ProjectDir,
		"RESULTS_DIR":                &c.ResultsDir,
		"DATA_DIR":                   &c.DataDir,
		"DATA_CACHE_DIR":             &c.DataCacheDir,
		"LLM_PROVIDER":               &c.LLMProvider,
		"QUICK_THINK_LLM":            &c.QuickThinkLLM,
		"BACKEND_URL":                &c.BackendURL,
		"PRICE_SOURCE":               &c.PriceSource,
		"LOG_LEVEL":                  &c.LogLevel,
		"LOG_FORMAT":                 &c.LogFormat,
		"METRICS_ADDR":               &c.MetricsAddr,
		"SQLITE_PATH":                &c.SQLitePath,
		"WATCH_SCHEDULE":             &c.WatchSchedule,
		"LONGPORT_APP_KEY":           &c.LongportAppKey,
		"LONGPORT_APP_SECRET":        &c.LongportAppSecret,
		"LONGPORT_ACCESS_TOKEN":      &c.LongportAccessToken,
		"DEEPSEEK_API_KEY":           &c.DeepSeekAPIKey,
		"OPENAI_API_KEY":             &c.OpenAIAPIKey,
		"CORTEXFUND_FINNHUB_API_KEY": &c.FinnhubAPIKey,
	}
	for name, dst := range strVars {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}

	boolVars := map[string]*bool{
		"CACHE_ENABLED":      &c.CacheEnabled,
		"ONLINE_TOOLS":       &c.OnlineTools,
		"USE_LLM_PERSONAS":   &c.UseLLMPersonas,
		"CORTEXFUND_DEBUG":   &c.Debug,
		"EINO_DEBUG_ENABLED": &c.EinoDebugEnabled,
	}
	for name, dst := range boolVars {
		if val := os.Getenv(name); val != "" {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}

	intVars := map[string]*int{
		"MAX_TOKENS":           &c.MaxTokens,
		"PRODUCER_TIMEOUT_SEC": &c.ProducerTimeoutSec,
		"LOOKBACK_DAYS":        &c.LookbackDays,
		"EINO_DEBUG_PORT":      &c.EinoDebugPort,
	}
	for name, dst := range intVars {
		if val := os.Getenv(name); val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}

	floatVars := map[string]*float64{
		"INITIAL_CASH":               &c.InitialCash,
		"MARGIN_REQUIREMENT":         &c.MarginRequirement,
		"MAX_POSITION_PCT":           &c.MaxPositionPct,
		"MAX_PORTFOLIO_EXPOSURE_PCT": &c.MaxExposurePct,
	}
	for name, dst := range floatVars {
		if val := os.Getenv(name); val != "" {
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = v
			}
		}
	}

	if val := os.Getenv("ANALYSTS"); val != "" {
		c.Analysts = splitList(val)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir}
	if c.SQLitePath != "" {
		dirs = append(dirs, filepath.Dir(c.SQLitePath))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
