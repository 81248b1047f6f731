package models

import (
	"os"
	"strconv"
	"time"
)

// ✅ Queue key categories (coarse preference buckets)
const (
	CategoryEmotion  = "emotion"
	CategoryLanguage = "language"
	CategoryMode     = "mode"
)

// ✅ Field length caps enforced on join
const (
	MaxUserIDLen   = 128
	MaxUserNameLen = 64
	MaxDeviceIDLen = 128
	MaxQueueKeyLen = 256
)

// ✅ Session relay limits
const (
	MaxMessageLen  = 2000
	HistoryCap     = 100
	HistoryReplay  = 20
	MaxSessionSize = 2
)

// QueueSnapshotsTable is the DynamoDB table for partition queue snapshots
const QueueSnapshotsTable = "QueueSnapshots"

// SessionStateTable is the DynamoDB table for session configs and history
const SessionStateTable = "SessionState"

// BackupBucketEnv names the S3 bucket holding the secondary snapshot tier
const BackupBucketEnv = "S3_BACKUP_BUCKET"

// QueueTTL returns the waiting-entry TTL, clamped to 1s–3600s (default 30s).
func QueueTTL() time.Duration {
	return clampedSeconds("QUEUE_TTL_SECONDS", 30, 1, 3600)
}

// SessionIdleTimeout returns the empty-session idle timeout,
// clamped to 1–60 minutes (default 5).
func SessionIdleTimeout() time.Duration {
	n := clampedInt("SESSION_IDLE_MINUTES", 5, 1, 60)
	return time.Duration(n) * time.Minute
}

// SnapshotInterval is the minimum primary snapshot cadence.
const SnapshotInterval = 15 * time.Second

// BackupInterval is the secondary (S3) snapshot cadence.
const BackupInterval = 5 * time.Minute

func clampedSeconds(env string, def, min, max int) time.Duration {
	return time.Duration(clampedInt(env, def, min, max)) * time.Second
}

func clampedInt(env string, def, min, max int) int {
	raw := os.Getenv(env)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}
