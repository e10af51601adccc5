package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/dyike/CortexFund/internal/agents"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/dataflows"
)

// PromptForTickers asks for one or more comma separated ticker symbols
func PromptForTickers() ([]string, error) {
	var input string
	prompt := &survey.Input{
		Message: "Enter ticker symbols (e.g., AAPL,MSFT,NVDA):",
		Help:    "Comma separated list of symbols to run the analysts on",
	}

	err := survey.AskOne(prompt, &input, survey.WithValidator(func(val interface{}) error {
		tickers := splitTickers([]string{val.(string)})
		if len(tickers) == 0 {
			return fmt.Errorf("enter at least one ticker")
		}
		for _, t := range tickers {
			if err := dataflows.ValidateSymbol(t); err != nil {
				return err
			}
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	return splitTickers([]string{input}), nil
}

// PromptForDate prompts the user to enter the decision date
func PromptForDate() (time.Time, error) {
	var dateStr string
	prompt := &survey.Input{
		Message: "Enter the decision date (YYYY-MM-DD):",
		Help:    "Signals only use data available on or before this date",
		Default: time.Now().Format(models.DateLayout),
	}

	err := survey.AskOne(prompt, &dateStr, survey.WithValidator(func(val interface{}) error {
		d, err := models.ParseDate(val.(string))
		if err != nil {
			return fmt.Errorf("invalid date format, use YYYY-MM-DD")
		}
		if d.After(time.Now()) {
			return fmt.Errorf("decision date cannot be in the future")
		}
		return nil
	}))
	if err != nil {
		return time.Time{}, err
	}

	return models.ParseDate(dateStr)
}

// PromptForAnalysts lets the user pick analysts from the catalogue.
// selected are checked by default.
func PromptForAnalysts(selected []string) ([]string, error) {
	options := make([]string, len(agents.Catalogue))
	byOption := make(map[string]string, len(agents.Catalogue))
	var defaults []string
	for i, a := range agents.Catalogue {
		options[i] = a.DisplayName
		byOption[a.DisplayName] = a.ID
		for _, id := range selected {
			if id == a.ID {
				defaults = append(defaults, a.DisplayName)
			}
		}
	}

	var picked []string
	prompt := &survey.MultiSelect{
		Message: "Select your analysts:",
		Options: options,
		Default: defaults,
		Description: func(value string, index int) string {
			return agents.Catalogue[index].Description
		},
		Help: "Use space to select, enter to confirm.",
	}

	err := survey.AskOne(prompt, &picked, survey.WithValidator(survey.MinItems(1)))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(picked))
	for _, name := range picked {
		ids = append(ids, byOption[name])
	}
	return ids, nil
}

// ConfirmRun shows the selections and asks whether to proceed
func ConfirmRun(req decideRequest) (bool, error) {
	fmt.Printf(`
Tickers:   %s
Date:      %s
Analysts:  %s

`, strings.Join(req.tickers, ", "), req.date.Format(models.DateLayout), strings.Join(req.analysts, ", "))

	var confirmed bool
	prompt := &survey.Confirm{
		Message: "Run the decision cycle?",
		Default: true,
	}
	err := survey.AskOne(prompt, &confirmed)
	return confirmed, err
}

// runInteractive collects a decision request through prompts
func runInteractive(cmd *cobra.Command, a *appContext) error {
	tickers, err := PromptForTickers()
	if err != nil {
		return err
	}
	date, err := PromptForDate()
	if err != nil {
		return err
	}
	analysts, err := PromptForAnalysts(a.cfg.Analysts)
	if err != nil {
		return err
	}

	req := decideRequest{tickers: tickers, date: date, analysts: analysts}
	ok, err := ConfirmRun(req)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
		return nil
	}
	return runDecide(cmd, a, req)
}
