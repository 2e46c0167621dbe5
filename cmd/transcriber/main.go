package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/adapterinfo"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/config"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/models"
)

type rootFlags struct {
	configFile  string
	listen      string
	backend     string
	logLevel    string
	logging     bool
	idleTimeout time.Duration
	healthAddr  string
	metricsAddr string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   adapterinfo.Info.BinaryName + " [model]",
		Short: adapterinfo.Info.Description,
		Long: "Accepts one streaming audio client at a time over TCP, transcribes each\n" +
			"utterance with Whisper and writes the text back. The optional model\n" +
			"argument names the largest tier to start from.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "YAML configuration file (overrides "+config.EnvConfigFile+")")
	f.StringVar(&flags.listen, "listen", config.DefaultListenAddr, "TCP address to accept clients on")
	f.StringVar(&flags.backend, "backend", config.DefaultBackend, "inference backend: auto, native, openai or stub")
	f.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn or error")
	f.BoolVar(&flags.logging, "logging", true, "write logs to stdout and the log file")
	f.DurationVar(&flags.idleTimeout, "idle-timeout", config.DefaultIdleTimeout, "pause that ends an utterance")
	f.StringVar(&flags.healthAddr, "health-addr", "", "gRPC health service address (disabled when empty)")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "Prometheus metrics address (disabled when empty)")

	cmd.AddCommand(newVersionCommand(), newModelsCommand())
	return cmd
}

// loadConfig layers explicitly set flags and the positional model over the
// environment and file configuration.
func loadConfig(cmd *cobra.Command, flags *rootFlags, args []string) (config.Config, error) {
	cfg, err := config.Loader{File: flags.configFile}.Raw()
	if err != nil {
		return config.Config{}, err
	}
	applyFlags(cmd, flags, &cfg)
	if len(args) == 1 {
		cfg.Model = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, flags *rootFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.ListenAddr = flags.listen
	}
	if changed("backend") {
		cfg.Backend = flags.backend
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("logging") {
		cfg.LoggingEnabled = flags.logging
	}
	if changed("idle-timeout") {
		cfg.IdleTimeout = flags.idleTimeout
	}
	if changed("health-addr") {
		cfg.HealthAddr = flags.healthAddr
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", adapterinfo.Info.BinaryName, adapterinfo.Version())
		},
	}
}

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model tiers, smallest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := models.DefaultManifest()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tDESCRIPTION\tDEFAULT")
			for i, v := range manifest.Variants {
				mark := ""
				if v.Name == config.DefaultModel {
					mark = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, v.Name, v.DisplayName, mark)
			}
			return w.Flush()
		},
	}
}
