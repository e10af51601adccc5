package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultWindowDays is the backtest length used when a scenario has no start.
const DefaultWindowDays = 90

var validate = validator.New()

// Scenario describes one backtest run in YAML.
type Scenario struct {
	Name     string   `yaml:"name" default:"backtest"`
	Tickers  []string `yaml:"tickers" validate:"required,min=1,dive,required"`
	Start    string   `yaml:"start" validate:"omitempty,datetime=2006-01-02"`
	End      string   `yaml:"end" validate:"omitempty,datetime=2006-01-02"`
	Analysts []string `yaml:"analysts"`

	InitialCash       float64  `yaml:"initial_cash" default:"100000" validate:"gt=0"`
	MarginRequirement *float64 `yaml:"margin_requirement" default:"0.5" validate:"omitempty,gte=0,lte=1"`
	MaxPositionPct    float64  `yaml:"max_position_pct" default:"0.2" validate:"gt=0,lte=1"`
	MaxExposurePct    float64  `yaml:"max_exposure_pct" default:"1" validate:"gt=0"`
	LookbackDays      int      `yaml:"lookback_days" default:"120" validate:"gt=0"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Normalize fills defaults, upper-cases tickers and validates.
func (s *Scenario) Normalize() error {
	if err := defaults.Set(s); err != nil {
		return fmt.Errorf("scenario defaults: %w", err)
	}
	for i, t := range s.Tickers {
		s.Tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	if err := validate.Struct(s); err != nil {
		return describeValidation(err)
	}
	start, end, err := s.Window(time.Now())
	if err != nil {
		return err
	}
	if start.After(end) {
		return fmt.Errorf("scenario start %s is after end %s", s.Start, s.End)
	}
	return nil
}

// Window resolves the date range: end defaults to now and start to
// DefaultWindowDays before end.
func (s *Scenario) Window(now time.Time) (start, end time.Time, err error) {
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if s.End != "" {
		if end, err = time.Parse(time.DateOnly, s.End); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	start = end.AddDate(0, 0, -DefaultWindowDays)
	if s.Start != "" {
		if start, err = time.Parse(time.DateOnly, s.Start); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

func (s *Scenario) Margin() float64 {
	if s.MarginRequirement == nil {
		return 0.5
	}
	return *s.MarginRequirement
}

// Apply overlays the scenario's portfolio and risk settings on cfg. The
// analysts are only replaced when the scenario names some.
func (s *Scenario) Apply(cfg Config) Config {
	if len(s.Analysts) > 0 {
		cfg.Analysts = append([]string(nil), s.Analysts...)
	}
	cfg.InitialCash = s.InitialCash
	cfg.MarginRequirement = s.Margin()
	cfg.MaxPositionPct = s.MaxPositionPct
	cfg.MaxExposurePct = s.MaxExposurePct
	cfg.LookbackDays = s.LookbackDays
	return cfg
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid scenario: %s", strings.Join(msgs, "; "))
}
