package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyike/CortexFund/models"
)

// LoadPortfolio reads a live portfolio saved by SavePortfolio. A missing
// file yields a fresh portfolio from the engine's config.
func (e *Engine) LoadPortfolio(path string) (*models.Portfolio, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return e.NewPortfolio(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}
	var pf models.Portfolio
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse portfolio %s: %w", path, err)
	}
	if pf.Positions == nil {
		pf.Positions = make(map[string]*models.Position)
	}
	return &pf, nil
}

// SavePortfolio replaces path atomically.
func SavePortfolio(path string, pf *models.Portfolio) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create portfolio dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "portfolio-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp portfolio: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pf); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("encode portfolio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp portfolio: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// PortfolioPath is where live runs keep their portfolio between cycles.
func (e *Engine) PortfolioPath() string {
	return filepath.Join(e.Config.ResultsDir, "live_portfolio.json")
}
