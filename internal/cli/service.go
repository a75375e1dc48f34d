package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/relayctl/relay/internal/app"
	"github.com/relayctl/relay/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var buildSHA = "dev"

var cmdService = &cobra.Command{
	Use:   "service",
	Short: "Manage the relay server process.",
}

var cmdServiceStart = &cobra.Command{
	Use:   "start",
	Short: "Start the relay orchestration server.",
	Long: `Start the relay orchestration server.

This blocks and only stops gracefully on SIGINT or SIGTERM, draining any
in-flight runs within the configured shutdown grace period first.`,
	RunE: serviceStart,
}

var cmdServiceInfo = &cobra.Command{
	Use:   "info",
	Short: "Print the resolved server configuration and exit.",
	RunE:  serviceInfo,
}

func init() {
	cmdServiceStart.Flags().Bool("dev-mode", false, "run with relaxed defaults suited to local development only")
	cmdService.AddCommand(cmdServiceStart)
	cmdService.AddCommand(cmdServiceInfo)
}

func serviceStart(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.InitAPIConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("error in config initialization")
	}

	devMode, _ := cmd.Flags().GetBool("dev-mode")
	if devMode {
		cfg.Server.DevMode = true
	}

	setupLogging(cfg.LogLevel)
	app.StartServices(cfg, buildSHA)

	return nil
}

func serviceInfo(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	resolvedAt := time.Now()

	cfg, err := config.InitAPIConfig(configPath)
	if err != nil {
		return fmt.Errorf("could not resolve config: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Printf("relay %s\n", buildSHA)
	fmt.Printf("config resolved %s\n\n", humanize.Time(resolvedAt))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"field", "value"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.Append([]string{"host", cfg.Server.Host})
	table.Append([]string{"dev mode", devModeString(cfg.Server.DevMode)})
	table.Append([]string{"storage path", cfg.Storage.Path})
	table.Append([]string{"scheduler engine", string(cfg.Scheduler.Engine)})
	table.Append([]string{"default namespace", cfg.DefaultNamespace})
	table.Append([]string{"shutdown timeout", cfg.Server.ShutdownTimeout.String()})
	table.Render()

	return nil
}

func devModeString(devMode bool) string {
	if devMode {
		return color.YellowString("true")
	}
	return "false"
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Caller().Logger()
	zerolog.SetGlobalLevel(parseLogLevel(level))

	if _, err := os.Stdout.Stat(); err == nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
