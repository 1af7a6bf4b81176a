package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/javi11/usenetstream/internal/admission"
	"github.com/javi11/usenetstream/internal/affinity"
	"github.com/javi11/usenetstream/internal/bandwidth"
	"github.com/javi11/usenetstream/internal/classify"
	"github.com/javi11/usenetstream/internal/config"
	"github.com/javi11/usenetstream/internal/filestream"
	"github.com/javi11/usenetstream/internal/nntp"
	database "github.com/javi11/usenetstream/internal/persistence"
	"github.com/javi11/usenetstream/internal/segment"
	"github.com/javi11/usenetstream/internal/streamgate"
)

var (
	streamDescriptorPath string
	streamJobKey         string
	streamOutPath        string
	streamPersistStats   bool
	streamSimulatePlayer bool
	streamChunkBytes     int
)

// streamCmd is the load tester spec.md names as an external operational
// tool: it drives open_stream/read exactly as any other caller of this
// module would, fanning the whole L1-L11 chain across a real provider
// set without an HTTP front-end in between.
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Open a file descriptor through the streaming pipeline and report throughput",
	RunE:  runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().StringVar(&streamDescriptorPath, "descriptor", "", "path to a JSON file descriptor (required)")
	streamCmd.Flags().StringVar(&streamJobKey, "job-key", "streamcore-cli", "job key used for affinity/bandwidth bookkeeping")
	streamCmd.Flags().StringVar(&streamOutPath, "out", "", "write the decoded stream here instead of discarding it")
	streamCmd.Flags().BoolVar(&streamPersistStats, "persist-stats", false, "upsert per-provider Provider Stat Records into the configured database after the run")
	streamCmd.Flags().BoolVar(&streamSimulatePlayer, "simulate-playback", false, "read in chunks through a streamgate.Tracker instead of one bulk WriteTo, exercising the streaming/playback-verified promotion gate")
	streamCmd.Flags().IntVar(&streamChunkBytes, "chunk-bytes", 256*1024, "chunk size used when --simulate-playback is set")
	_ = streamCmd.MarkFlagRequired("descriptor")
}

// descriptorFile is the on-disk JSON shape a load-testing descriptor is
// authored in; it mirrors internal/filestream.FileDescriptor field for
// field so converting between them is a straight copy.
type descriptorFile struct {
	Parts []struct {
		SegmentIDs        []string `json:"segment_ids"`
		SegmentSizeHints  []int64  `json:"segment_size_hints"`
		SegmentByteRange  [2]int64 `json:"segment_byte_range"`
		FilePartByteRange [2]int64 `json:"file_part_byte_range"`
	} `json:"parts"`
	XORKey []byte `json:"xor_key,omitempty"`
	AES    *struct {
		Key []byte `json:"key"`
		IV  []byte `json:"iv"`
	} `json:"aes,omitempty"`
}

func loadDescriptor(path string) (filestream.FileDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return filestream.FileDescriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	var df descriptorFile
	if err := json.Unmarshal(data, &df); err != nil {
		return filestream.FileDescriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}

	desc := filestream.FileDescriptor{XORKey: df.XORKey}
	if df.AES != nil {
		desc.AES = &filestream.AESParams{Key: df.AES.Key, IV: df.AES.IV}
	}
	for _, p := range df.Parts {
		desc.Parts = append(desc.Parts, filestream.FilePart{
			SegmentIDs:        p.SegmentIDs,
			SegmentSizeHints:  p.SegmentSizeHints,
			SegmentByteRange:  filestream.ByteRange{Start: p.SegmentByteRange[0], End: p.SegmentByteRange[1]},
			FilePartByteRange: filestream.ByteRange{Start: p.FilePartByteRange[0], End: p.FilePartByteRange[1]},
		})
	}
	return desc, nil
}

// fanRecorder satisfies internal/nntp.Recorder by forwarding every
// outcome to both L7's affinity scorer and L10's bandwidth meter, which
// each need their own view of the same stream of fetches.
type fanRecorder struct {
	affinity  *affinity.Scorer
	bandwidth *bandwidth.Meter
}

func (f fanRecorder) RecordFetch(providerIdx int, jobKey string, bytesRead int64, dur time.Duration, err error) {
	f.affinity.RecordFetch(providerIdx, jobKey, bytesRead, dur, err)
	f.bandwidth.RecordFetch(providerIdx, jobKey, bytesRead, dur, err)
}

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	desc, err := loadDescriptor(streamDescriptorPath)
	if err != nil {
		return err
	}

	providers, err := config.ToNNTP(cfg.Providers)
	if err != nil {
		return fmt.Errorf("convert providers: %w", err)
	}

	pool := nntp.NewPool(nntp.PoolConfig{}, logger)
	for _, p := range providers {
		pool.AddProvider(p)
	}

	classifier := classify.New(cfg.CircuitBreaker.ToClassify())
	scorer := affinity.NewWithConfig(cfg.Affinity.ToAffinity(), classifier)
	meter := bandwidth.NewWithConfig(cfg.Bandwidth.ToBandwidth())
	admitter := admission.New(cfg.Admission.ToAdmission())

	fetcher := nntp.NewFetcher(pool, scorer, admitter, classifier, fanRecorder{affinity: scorer, bandwidth: meter}, nntp.FetcherConfig{}, logger)

	initialUsage := nntp.UsageQueue
	if streamSimulatePlayer {
		initialUsage = nntp.UsageStreaming
	}
	usage := nntp.UsageContext{Kind: initialUsage, JobKey: streamJobKey, AffinityKey: streamJobKey}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	stream, err := filestream.New(ctx, fetcher, usage, segment.Config{}, desc, logger)
	if err != nil {
		return fmt.Errorf("open_stream: %w", err)
	}
	defer stream.Close()

	var out io.Writer = io.Discard
	if streamOutPath != "" {
		f, err := os.Create(streamOutPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	start := time.Now()
	var n int64
	if streamSimulatePlayer {
		n, err = simulatePlayback(ctx, stream, out, streamJobKey)
	} else {
		n, err = stream.WriteTo(ctx, out)
	}
	dur := time.Since(start)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}

	mb := float64(n) / 1024 / 1024
	secs := dur.Seconds()
	var mbps float64
	if secs > 0 {
		mbps = mb / secs
	}
	fmt.Printf("read %d bytes of %d in %s (%.2f MB/s)\n", n, stream.Length(), dur, mbps)

	if streamPersistStats {
		if err := persistProviderStats(ctx, cfg.Database, meter, streamJobKey); err != nil {
			return fmt.Errorf("persist provider stats: %w", err)
		}
	}
	return nil
}

// simulatePlayback reads stream in chunks through a streamgate.Tracker
// the way a player-facing caller would, rather than one bulk WriteTo,
// so L11's Buffering/Streaming/Stalled classification and its
// Streaming -> PlaybackVerified promotion after sustained contiguous
// reads actually run against real fetched data instead of being
// exercised only by unit tests.
func simulatePlayback(ctx context.Context, stream *filestream.Stream, out io.Writer, jobKey string) (int64, error) {
	tracker := streamgate.NewTracker()
	id := tracker.Add(jobKey, "streamcore-cli", "", "", "", stream.Length())
	defer tracker.Remove(id)

	chunk := streamChunkBytes
	if chunk <= 0 {
		chunk = 256 * 1024
	}
	buf := make([]byte, chunk)

	var total int64
	lastKind := nntp.UsageStreaming
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
			tracker.UpdateProgress(id, int64(n))
			tracker.UpdateBufferedOffset(id, total)

			if kind := tracker.UsageKind(id); kind != lastKind {
				fmt.Printf("usage kind changed: %v -> %v at offset %d\n", lastKind, kind, total)
				lastKind = kind
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// persistProviderStats upserts one Provider Stat Record per provider
// that saw traffic during this run. Nothing in this module reads the
// records back: internal/affinity's score cache still starts cold on
// the next run.
func persistProviderStats(ctx context.Context, dbCfg config.DatabaseConfig, meter *bandwidth.Meter, jobKey string) error {
	db, err := database.New(database.Config{Driver: database.Driver(dbCfg.Driver), DSN: dbCfg.DSN})
	if err != nil {
		return err
	}
	defer db.Close()

	for _, snap := range meter.SnapshotAll() {
		stat := database.ProviderStat{
			JobKey:             jobKey,
			ProviderIndex:      snap.ProviderIndex,
			SuccessfulSegments: snap.ArticlesFetched - snap.Errors,
			FailedSegments:     snap.Errors,
			TotalBytes:         snap.BytesTransferred,
			RecentSpeedBps:     snap.RecentSpeedBps,
			LastUsed:           snap.LastUsed,
		}
		if stat.SuccessfulSegments < 0 {
			stat.SuccessfulSegments = 0
		}
		if err := db.Repository.UpsertProviderStat(ctx, stat); err != nil {
			return err
		}
	}
	return nil
}
