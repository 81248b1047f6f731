package models

import (
	"fmt"
	"strings"
	"time"
)

// WaitingEntry is a queued user awaiting pairing in one partition.
type WaitingEntry struct {
	UserID   string    `dynamodbav:"userId" json:"userId"`
	UserName string    `dynamodbav:"userName" json:"userName"`
	DeviceID string    `dynamodbav:"deviceId" json:"deviceId"`
	Emotion  string    `dynamodbav:"emotion,omitempty" json:"emotion,omitempty"`
	Language string    `dynamodbav:"language,omitempty" json:"language,omitempty"`
	Mode     string    `dynamodbav:"mode,omitempty" json:"mode,omitempty"`
	QueueKey string    `dynamodbav:"queueKey" json:"queueKey"`
	JoinedAt time.Time `dynamodbav:"joinedAt" json:"joinedAt"`
}

// QueueFilters is the preference bucket derived once from the first queueKey seen.
type QueueFilters struct {
	Emotion  string `dynamodbav:"emotion,omitempty" json:"emotion,omitempty"`
	Language string `dynamodbav:"language,omitempty" json:"language,omitempty"`
	Mode     string `dynamodbav:"mode,omitempty" json:"mode,omitempty"`
}

// QueueStats counts joins and matches for a partition.
type QueueStats struct {
	JoinCount  int `dynamodbav:"joinCount" json:"joinCount"`
	MatchCount int `dynamodbav:"matchCount" json:"matchCount"`
}

// QueueMetadata describes one partition queue.
type QueueMetadata struct {
	QueueID   string       `dynamodbav:"queueId" json:"queueId"`
	Filters   QueueFilters `dynamodbav:"filters" json:"filters"`
	Stats     QueueStats   `dynamodbav:"stats" json:"stats"`
	CreatedAt time.Time    `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt time.Time    `dynamodbav:"updatedAt" json:"updatedAt"`
}

// QueueSnapshot is the full recoverable state of one partition queue actor.
// Written to the primary tier on every state change and to the backup tier
// on a slow cadence.
type QueueSnapshot struct {
	QueueID  string                 `dynamodbav:"queueId" json:"queueId"`
	Metadata QueueMetadata          `dynamodbav:"metadata" json:"metadata"`
	Waiting  []WaitingEntry         `dynamodbav:"waiting" json:"waiting"`
	Matches  map[string]MatchRecord `dynamodbav:"matches" json:"matches"`
	SavedAt  time.Time              `dynamodbav:"savedAt" json:"savedAt"`
}

// JoinRequest is the body of POST /queue/join (and POST /api/match).
type JoinRequest struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	DeviceID   string `json:"deviceId"`
	QueueKey   string `json:"queueKey,omitempty"`
	Emotion    string `json:"emotion,omitempty"`
	Language   string `json:"language,omitempty"`
	Mode       string `json:"mode,omitempty"`
	SocketBase string `json:"socketBase,omitempty"`
}

// EffectiveQueueKey resolves the partition key, deriving one from the
// preference fields when no explicit key was sent.
func (r *JoinRequest) EffectiveQueueKey() string {
	if r.QueueKey != "" {
		return r.QueueKey
	}
	switch {
	case r.Emotion != "":
		return CategoryEmotion + ":" + r.Emotion
	case r.Language != "":
		return CategoryLanguage + ":" + r.Language
	case r.Mode != "":
		return CategoryMode + ":" + r.Mode
	}
	return ""
}

// DeriveFilters maps a "category:value" queue key onto QueueFilters.
// "mood" is accepted as a legacy alias for "emotion".
func DeriveFilters(queueKey string) QueueFilters {
	category, value, found := strings.Cut(queueKey, ":")
	if !found {
		return QueueFilters{Mode: queueKey}
	}
	switch category {
	case CategoryEmotion, "mood":
		return QueueFilters{Emotion: value}
	case CategoryLanguage:
		return QueueFilters{Language: value}
	default:
		return QueueFilters{Mode: value}
	}
}

// JoinResponse is returned for both the matched and the waiting outcome.
type JoinResponse struct {
	Matched      bool      `json:"matched"`
	WaitingUsers int       `json:"waitingUsers,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	PartnerID    string    `json:"partnerId,omitempty"`
	PartnerName  string    `json:"partnerName,omitempty"`
	WsURL        string    `json:"wsUrl,omitempty"`
	PartnerWsURL string    `json:"partnerWsUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// LeaveResponse reports what POST /queue/leave removed.
type LeaveResponse struct {
	RemovedFromQueue bool         `json:"removedFromQueue"`
	MatchCanceled    bool         `json:"matchCanceled"`
	CanceledMatch    *MatchRecord `json:"canceledMatch,omitempty"`
}

// StatusResponse is the read-only snapshot for GET /queue/status.
type StatusResponse struct {
	QueueID       string       `json:"queueId"`
	Filters       QueueFilters `json:"filters"`
	Waiting       int          `json:"waiting"`
	ActiveMatches int          `json:"activeMatches"`
	Stats         QueueStats   `json:"stats"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// HealResponse reports the outcome of POST /queue/heal.
type HealResponse struct {
	OK       bool `json:"ok"`
	Replayed bool `json:"replayed"`
}

// ValidationError marks a rejected field on join/leave/init. Mapped to 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
