package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javi11/usenetstream/internal/config"
	"github.com/javi11/usenetstream/internal/health"
	"github.com/javi11/usenetstream/internal/nntp"
	"github.com/javi11/usenetstream/pkg/healthcheck"
)

var (
	healthDescriptorPath string
	healthProviderIdx    int
	healthConcurrency    int
	healthSamplePercent  int
	healthUseHead        bool

	watchDescriptorPath string
	watchProviderIdx    int
	watchCronSpec       string
	watchJobKey         string
)

// healthCmd is the check_segments operational tool: run the same
// segment-availability sweep internal/health implements for the core
// against a real provider, without anything else in the pipeline
// involved.
var healthCmd = &cobra.Command{
	Use:   "check-segments",
	Short: "Probe a file descriptor's segments for availability against one provider",
	RunE:  runHealthCheck,
}

// watchCmd runs the same check as check-segments repeatedly on a cron
// schedule via pkg/healthcheck.Scheduler, the way a long-running
// consumer of this module would monitor a file's continued
// availability rather than checking it once.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run check-segments repeatedly on a cron schedule until interrupted",
	RunE:  runHealthWatch,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(watchCmd)

	healthCmd.Flags().StringVar(&healthDescriptorPath, "descriptor", "", "path to a JSON file descriptor (required)")
	healthCmd.Flags().IntVar(&healthProviderIdx, "provider", 0, "index into the configured providers list to probe")
	healthCmd.Flags().IntVar(&healthConcurrency, "concurrency", 8, "concurrent probes")
	healthCmd.Flags().IntVar(&healthSamplePercent, "sample-percent", 100, "percentage of segments to sample (0 means 100)")
	healthCmd.Flags().BoolVar(&healthUseHead, "use-head", false, "read one byte of the body instead of a bare STAT")
	_ = healthCmd.MarkFlagRequired("descriptor")

	watchCmd.Flags().StringVar(&watchDescriptorPath, "descriptor", "", "path to a JSON file descriptor (required)")
	watchCmd.Flags().IntVar(&watchProviderIdx, "provider", 0, "index into the configured providers list to probe")
	watchCmd.Flags().StringVar(&watchCronSpec, "cron", "0 */6 * * *", "standard 5-field cron schedule")
	watchCmd.Flags().StringVar(&watchJobKey, "job-key", "streamcore-watch", "job key reported alongside each result")
	_ = watchCmd.MarkFlagRequired("descriptor")
}

type logSink struct{ log *slog.Logger }

func (s logSink) ReportHealth(job healthcheck.Job, result health.Result, err error) {
	if err != nil {
		s.log.Error("health sweep failed", "job", job.Key, "error", err)
		return
	}
	if result.OK {
		s.log.Info("health sweep OK", "job", job.Key, "checked", result.Checked)
		return
	}
	s.log.Warn("health sweep found missing segment", "job", job.Key, "checked", result.Checked, "first_missing", result.FirstMissing)
}

func runHealthWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	desc, err := loadDescriptor(watchDescriptorPath)
	if err != nil {
		return err
	}

	var ids []string
	for _, part := range desc.Parts {
		ids = append(ids, part.SegmentIDs...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("descriptor has no segments to check")
	}

	providers, err := config.ToNNTP(cfg.Providers)
	if err != nil {
		return fmt.Errorf("convert providers: %w", err)
	}

	pool := nntp.NewPool(nntp.PoolConfig{}, logger)
	for _, p := range providers {
		pool.AddProvider(p)
	}

	sched := healthcheck.NewScheduler(health.NewConnPool(pool), health.Config{}, logSink{log: logger}, logger)
	sched.SetJobs([]healthcheck.Job{{Key: watchJobKey, SegmentIDs: ids, ProviderIdx: watchProviderIdx}})

	if err := sched.Start(watchCronSpec); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	fmt.Printf("watching %d segments on schedule %q, press Ctrl+C to stop\n", len(ids), watchCronSpec)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	return nil
}

func runHealthCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	desc, err := loadDescriptor(healthDescriptorPath)
	if err != nil {
		return err
	}

	var ids []string
	for _, part := range desc.Parts {
		ids = append(ids, part.SegmentIDs...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("descriptor has no segments to check")
	}

	providers, err := config.ToNNTP(cfg.Providers)
	if err != nil {
		return fmt.Errorf("convert providers: %w", err)
	}

	pool := nntp.NewPool(nntp.PoolConfig{}, logger)
	for _, p := range providers {
		pool.AddProvider(p)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	result, err := health.CheckSegmentsDetailed(ctx, health.NewConnPool(pool), healthProviderIdx, ids, health.Config{
		Concurrency:      healthConcurrency,
		SamplePercentage: healthSamplePercent,
		UseHead:          healthUseHead,
	}, logger)
	if err != nil {
		return fmt.Errorf("check segments: %w", err)
	}

	if len(result.MissingIDs) == 0 {
		fmt.Printf("OK: %d/%d segments checked, all present\n", result.Checked, len(ids))
		return nil
	}

	fmt.Printf("MISSING: %d/%d segments checked, %d missing\n", result.Checked, len(ids), len(result.MissingIDs))
	for _, id := range result.MissingIDs {
		fmt.Printf("  %s\n", id)
	}
	return nil
}
