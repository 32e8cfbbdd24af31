package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/speechcheck/internal/analysis"
	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/capture"
	"github.com/skypro1111/speechcheck/internal/config"
	"github.com/skypro1111/speechcheck/internal/logging"
	"github.com/skypro1111/speechcheck/internal/metrics"
	"github.com/skypro1111/speechcheck/internal/session"
)

const (
	serviceName    = "speechcheck"
	serviceVersion = "1.0.0"
)

// app carries the state shared by every subcommand once configuration is loaded.
type app struct {
	configPath string
	envFiles   []string

	cfg      *config.Config
	logger   *slog.Logger
	closer   io.Closer
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Record speech and check its quality with an analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closer != nil {
				a.closer.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before the configuration")

	root.AddCommand(newRecordCmd(a), newAnalyzeCmd(a), newVersionCmd())
	return root
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envFiles...); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	a.logger, a.closer = logging.New(cfg.Logging)

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.NewMetrics(a.registry)

	a.logger.Debug("Configuration loaded",
		slog.String("config_path", a.configPath),
		slog.String("analysis_endpoint", cfg.Analysis.Endpoint),
		slog.String("capture_device", cfg.Capture.Device),
		slog.String("downmix", cfg.Transcoder.Downmix),
		slog.String("quantization", cfg.Transcoder.Quantization),
	)
	return nil
}

// device builds the configured capture device. A non-empty path forces the file device.
func (a *app) device(path string) capture.Device {
	if path != "" {
		return capture.NewFileDevice(path, "")
	}
	if a.cfg.Capture.Device == config.DeviceFile {
		return capture.NewFileDevice(a.cfg.Capture.File, a.cfg.Capture.MimeType)
	}
	return capture.NewCommandDevice(a.cfg.Capture.Command, a.cfg.Capture.MimeType)
}

// newMachine wires capture, transcoding and analysis into a session machine.
func (a *app) newMachine(device capture.Device) (*session.Machine, *capture.Session, error) {
	recorder := capture.NewSession(device, capture.Config{
		ChunkSize:    a.cfg.Capture.ChunkSize,
		DrainTimeout: a.cfg.Capture.GetDrainTimeoutDuration(),
	}, a.logger, a.metrics)

	transcoder, err := audio.NewTranscoder(a.cfg.Transcoder.Policies(), audio.DefaultDecoders(), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transcoder: %w", err)
	}

	client, err := analysis.NewClient(analysis.Config{
		Endpoint:  a.cfg.Analysis.Endpoint,
		Timeout:   a.cfg.Analysis.GetTimeoutDuration(),
		UserAgent: a.cfg.Analysis.UserAgent,
	}, a.logger, a.metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create analysis client: %w", err)
	}

	return session.NewMachine(recorder, transcoder, client, a.logger, a.metrics), recorder, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, serviceVersion)
		},
	}
}
