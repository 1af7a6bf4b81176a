// Package streamgate implements the Streaming-monitor gate (L11): it
// tracks active playback sessions and decides, from their observed
// consumption pattern, which carry enough confidence to be classified
// UsagePlaybackVerified rather than plain UsageStreaming so L8 can
// reserve bandwidth for media that is actually playing rather than
// merely open.
//
// Grounded on the teacher's internal/nzbfilesystem/types.go
// ActiveStream/StreamTracker shapes (the progress/status fields a
// player-facing virtual filesystem already tracks per open file).
package streamgate

import (
	"path/filepath"
	"strings"
	"time"
)

// RootPath is the canonical root key streams are normalized against.
const RootPath = "/"

// ActiveStream represents a file currently being streamed
type ActiveStream struct {
	ID               string    `json:"id"`
	FilePath         string    `json:"file_path"`
	StartedAt        time.Time `json:"started_at"`
	LastActivity     time.Time `json:"last_activity"`
	Source           string    `json:"source"`
	UserName         string    `json:"user_name,omitempty"`
	ClientIP         string    `json:"client_ip,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	TotalSize        int64     `json:"total_size"`
	BytesSent        int64     `json:"bytes_sent"`
	CurrentOffset    int64     `json:"current_offset"`
	BytesPerSecond   int64     `json:"bytes_per_second"`
	SpeedAvg         int64     `json:"speed_avg"`
	ETA              int64     `json:"eta"` // Seconds remaining
	TotalConnections int       `json:"total_connections"`
	BufferedOffset   int64     `json:"buffered_offset"`
	Status           string    `json:"status"` // e.g., "Buffering", "Streaming", "Stalled"
}

// StreamTracker interface for tracking active streams
type StreamTracker interface {
	Add(filePath, source, userName, clientIP, userAgent string, totalSize int64) string
	UpdateProgress(id string, bytesRead int64)
	UpdateBufferedOffset(id string, offset int64)
	Remove(id string)
}

// normalizePath normalizes file paths for consistent database lookups
// Removes trailing slashes except for root path "/"
func normalizePath(path string) string {
	// Handle empty path
	if path == "" {
		return RootPath
	}

	// Handle root path - keep as is
	if path == RootPath {
		return path
	}

	// Replace backslashes with forward slashes first
	path = strings.ReplaceAll(path, "\\", "/")

	// Clean the path using filepath.Clean
	cleaned := filepath.Clean(path)

	// Remove trailing slashes and backslashes
	cleaned = strings.TrimRight(cleaned, "/\\")

	// Ensure we don't return empty string after trimming (e.g. if path was just slashes)
	if cleaned == "" || cleaned == "." {
		return RootPath
	}

	return cleaned
}
