package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/internal/display"
)

// NewRootCmd wires every subcommand onto one shared appContext.
func NewRootCmd() *cobra.Command {
	a := &appContext{}
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "cortexfund",
		Short: "CortexFund - multi-analyst decision pipeline and backtester",
		Long: `CortexFund runs a team of analyst agents over a ticker, aggregates their
signals, bounds the exposure and turns the result into orders. The same
pipeline replays history to backtest a strategy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.shutdown()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, a)
		},
	}

	rootCmd.AddCommand(
		newBacktestCmd(a),
		newDecideCmd(a),
		newWatchCmd(a),
		newRunsCmd(a),
		newFetchCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configDir, "config-dir", "", "Directory holding config.json (watched for changes)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: console or json")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug mode")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "CortexFund %s\n", Version)
		},
	}
}

func newConfigCmd(a *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}
	cmd.AddCommand(configShowCmd(a), configValidateCmd(a), configPathCmd(a))
	return cmd
}

func configShowCmd(a *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(masked(a.cfg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func configValidateCmd(a *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and report missing credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := a.cfg.Validate(); err != nil {
				display.Error(out, err, "configuration")
				return err
			}
			for _, w := range credentialWarnings(a.cfg) {
				display.Warning(out, w)
			}
			display.Success(out, "Configuration is valid")
			return nil
		},
	}
}

func configPathCmd(a *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the watched config file, if any",
		Run: func(cmd *cobra.Command, args []string) {
			if a.mgr == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "(defaults and environment; pass --config-dir to use a file)")
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.mgr.Path())
		},
	}
}

func masked(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "****"
		}
	}
	mask(&cfg.DeepSeekAPIKey)
	mask(&cfg.OpenAIAPIKey)
	mask(&cfg.FinnhubAPIKey)
	mask(&cfg.LongportAppKey)
	mask(&cfg.LongportAppSecret)
	mask(&cfg.LongportAccessToken)
	return cfg
}

func credentialWarnings(cfg config.Config) []string {
	var warnings []string
	if cfg.UseLLMPersonas {
		switch strings.ToLower(cfg.LLMProvider) {
		case "deepseek":
			if cfg.DeepSeekAPIKey == "" {
				warnings = append(warnings, "LLM personas enabled but DEEPSEEK_API_KEY is not set")
			}
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				warnings = append(warnings, "LLM personas enabled but OPENAI_API_KEY is not set")
			}
		}
	}
	if cfg.OnlineTools && cfg.FinnhubAPIKey == "" {
		warnings = append(warnings, "Finnhub API key not configured; metrics fall back to Yahoo and news to Google News")
	}
	if cfg.PriceSource == "longport" && (cfg.LongportAppKey == "" || cfg.LongportAccessToken == "") {
		warnings = append(warnings, "price_source is longport but Longport credentials are missing")
	}
	return warnings
}
