package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/speechcheck/internal/capture"
	"github.com/skypro1111/speechcheck/internal/server"
	"github.com/skypro1111/speechcheck/internal/session"
)

// runOptions control one record-and-analyze pass.
type runOptions struct {
	retries     int
	json        bool
	maxDuration time.Duration
	// waitForEnter stops the recording on a line from stdin.
	waitForEnter bool
}

func newRecordCmd(a *app) *cobra.Command {
	opts := runOptions{waitForEnter: true}
	var seconds float64

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the configured input, then analyze the recording",
		Long: "Record from the configured input until Enter, Ctrl-C or the maximum duration,\n" +
			"transcode the capture to 16-bit mono WAV and submit it for analysis.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.maxDuration = a.cfg.Capture.GetMaxDuration()
			if cmd.Flags().Changed("max-duration") {
				opts.maxDuration = time.Duration(seconds * float64(time.Second))
			}
			return a.run(cmd, a.device(""), opts)
		},
	}

	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Resubmit the same recording this many times after a transport failure")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the analysis result as JSON")
	cmd.Flags().Float64Var(&seconds, "max-duration", 0, "Stop recording after this many seconds (overrides capture.max_duration)")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Transcode an existing recording and analyze it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, a.device(args[0]), opts)
		},
	}

	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Resubmit the same recording this many times after a transport failure")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the analysis result as JSON")
	return cmd
}

// run records from device until asked to stop or the input ends, then
// analyzes the capture and renders the outcome.
func (a *app) run(cmd *cobra.Command, device capture.Device, opts runOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	progress := cmd.ErrOrStderr()

	machine, recorder, err := a.newMachine(device)
	if err != nil {
		return err
	}
	machine.Subscribe(session.ListenerFunc(func(s session.Snapshot) {
		renderTransition(progress, s)
	}))

	if a.cfg.Metrics.Enabled {
		metricsServer := server.NewMetricsServer(a.cfg.Metrics, a.registry, a.logger)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Stop(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := machine.Start(ctx); err != nil {
		renderFailure(progress, machine.Snapshot().Failure)
		return err
	}

	a.waitForStop(ctx, progress, recorder, sigChan, opts)

	if err := machine.Stop(); err != nil {
		renderFailure(progress, machine.Snapshot().Failure)
		return err
	}
	if snap := machine.Snapshot(); snap.State == session.StateFailed {
		renderFailure(progress, snap.Failure)
		return snap.Failure
	}

	// A signal during analysis abandons the wait; the request itself runs to
	// completion or the client timeout.
	analyzeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-analyzeCtx.Done():
		}
	}()

	for attempt := 0; ; attempt++ {
		if err := machine.Analyze(analyzeCtx); err != nil {
			return err
		}
		snap, err := machine.Await(analyzeCtx)
		if err != nil {
			return fmt.Errorf("analysis abandoned: %w", err)
		}

		if snap.State == session.StateAnalyzed {
			if opts.json {
				return renderJSON(out, snap.Result)
			}
			renderResult(out, snap.Result)
			return nil
		}

		renderFailure(progress, snap.Failure)
		if attempt >= opts.retries || !retryable(snap.Failure) {
			return snap.Failure
		}
		a.logger.Info("Retrying analysis",
			slog.String("session_id", snap.ID),
			slog.Int("attempt", attempt+1),
		)
		if err := machine.Retry(); err != nil {
			return err
		}
	}
}

// waitForStop blocks until the recording should end.
func (a *app) waitForStop(ctx context.Context, progress io.Writer, recorder *capture.Session, sigChan <-chan os.Signal, opts runOptions) {
	var timeout <-chan time.Time
	if opts.maxDuration > 0 {
		timer := time.NewTimer(opts.maxDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	enter := make(chan struct{})
	if opts.waitForEnter {
		fmt.Fprintln(progress, "Recording... press Enter or Ctrl-C to stop.")
		go func() {
			// Only a complete line stops; a closed stdin leaves the other triggers.
			if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
				close(enter)
			}
		}()
	}

	select {
	case <-enter:
	case sig := <-sigChan:
		a.logger.Debug("Received stop signal", slog.String("signal", sig.String()))
	case <-timeout:
		a.logger.Info("Maximum recording duration reached", slog.Duration("max_duration", opts.maxDuration))
	case <-recorder.Done():
		a.logger.Debug("Input ended")
	case <-ctx.Done():
	}
}

// retryable reports whether resubmitting the same audio can help.
func retryable(f *session.Failure) bool {
	return f != nil && f.Kind == session.FailureTransport
}
