package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"pairchat_server/models"
	"pairchat_server/storage"
)

// SessionBootstrapper is the outbound queue → session call. Implemented by
// SessionService; an interface so the two services can be wired in main
// without an import cycle.
type SessionBootstrapper interface {
	Bootstrap(ctx context.Context, cfg models.SessionConfig) error
}

// QueueActor owns one partition: its waiting list, pairing, active-match
// index and snapshot ladder. Every invocation serializes on mu, so the
// join/pair sequence is race-free; distinct partitions never block each
// other.
type QueueActor struct {
	queueKey string
	state    storage.StateStore
	backup   storage.BackupStore
	sessions SessionBootstrapper

	ttl        time.Duration
	socketBase string

	mu          sync.Mutex
	loaded      bool
	meta        models.QueueMetadata
	waiting     []models.WaitingEntry
	matches     map[string]models.MatchRecord
	matchByUser map[string]string
}

// QueueID derives the deterministic actor name for a queue key.
func QueueID(queueKey string) string {
	sum := sha256.Sum256([]byte(queueKey))
	return "queue_" + hex.EncodeToString(sum[:6])
}

func newQueueActor(queueKey string, state storage.StateStore, backup storage.BackupStore, sessions SessionBootstrapper, ttl time.Duration, socketBase string) *QueueActor {
	return &QueueActor{
		queueKey:    queueKey,
		state:       state,
		backup:      backup,
		sessions:    sessions,
		ttl:         ttl,
		socketBase:  socketBase,
		matches:     map[string]models.MatchRecord{},
		matchByUser: map[string]string{},
	}
}

func (q *QueueActor) backupKey() string {
	return "queues/" + QueueID(q.queueKey) + ".json"
}

// ensureLoaded restores state on first use: durable tier first, backup tier
// only if the durable tier is empty. Runs to completion before the calling
// invocation proceeds.
func (q *QueueActor) ensureLoaded(ctx context.Context) {
	if q.loaded {
		return
	}
	q.loaded = true

	var snap models.QueueSnapshot
	found, err := q.state.Get(ctx, models.QueueSnapshotsTable, QueueID(q.queueKey), &snap)
	if err != nil {
		log.Printf("❌ Failed to read queue snapshot for %s: %v", q.queueKey, err)
	}
	if !found {
		found, err = q.backup.GetObject(ctx, q.backupKey(), &snap)
		if err != nil {
			log.Printf("❌ Failed to read queue backup for %s: %v", q.queueKey, err)
		}
		if found {
			log.Printf("🔄 Recovered queue %s from backup tier", q.queueKey)
		}
	}
	if !found {
		q.meta = models.QueueMetadata{
			QueueID:   QueueID(q.queueKey),
			Filters:   models.DeriveFilters(q.queueKey),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		return
	}

	q.meta = snap.Metadata
	q.waiting = snap.Waiting
	if snap.Matches != nil {
		q.matches = snap.Matches
	}
	for sid, m := range q.matches {
		q.matchByUser[m.UserID] = sid
		q.matchByUser[m.PartnerID] = sid
	}
	log.Printf("✅ Queue %s restored: %d waiting, %d active matches", q.queueKey, len(q.waiting), len(q.matches))
}

// snapshot writes the primary-tier snapshot. Write failures are logged and
// swallowed; in-memory state stays authoritative until the next successful
// write.
func (q *QueueActor) snapshot(ctx context.Context) {
	snap := models.QueueSnapshot{
		QueueID:  q.meta.QueueID,
		Metadata: q.meta,
		Waiting:  q.waiting,
		Matches:  q.matches,
		SavedAt:  time.Now(),
	}
	if err := q.state.Put(ctx, models.QueueSnapshotsTable, q.meta.QueueID, snap); err != nil {
		log.Printf("❌ Queue snapshot write failed for %s: %v", q.queueKey, err)
	}
}

// writeBackup flushes the snapshot to the secondary tier.
func (q *QueueActor) writeBackup(ctx context.Context) {
	q.mu.Lock()
	snap := models.QueueSnapshot{
		QueueID:  q.meta.QueueID,
		Metadata: q.meta,
		Waiting:  q.waiting,
		Matches:  q.matches,
		SavedAt:  time.Now(),
	}
	q.mu.Unlock()

	if err := q.backup.PutObject(ctx, q.backupKey(), snap); err != nil {
		log.Printf("❌ Queue backup write failed for %s: %v", q.queueKey, err)
	}
}

func validateJoin(req *models.JoinRequest, queueKey string) error {
	checks := []struct {
		field string
		value string
		max   int
	}{
		{"userId", req.UserID, models.MaxUserIDLen},
		{"userName", req.UserName, models.MaxUserNameLen},
		{"deviceId", req.DeviceID, models.MaxDeviceIDLen},
		{"queueKey", queueKey, models.MaxQueueKeyLen},
	}
	for _, c := range checks {
		trimmed := strings.TrimSpace(c.value)
		if trimmed == "" {
			return &models.ValidationError{Field: c.field, Reason: "missing"}
		}
		if len(c.value) > c.max {
			return &models.ValidationError{Field: c.field, Reason: fmt.Sprintf("longer than %d characters", c.max)}
		}
	}
	return nil
}

func (q *QueueActor) wsURL(base, sessionID, userID, userName string) string {
	if base == "" {
		base = q.socketBase
	}
	v := url.Values{}
	v.Set("sessionId", sessionID)
	v.Set("userId", userID)
	v.Set("userName", userName)
	v.Set("queueKey", q.queueKey)
	return base + "/chat?" + v.Encode()
}

// pruneStale drops waiting entries older than the partition TTL so they are
// never selected as a pairing partner.
func (q *QueueActor) pruneStale(now time.Time) {
	kept := q.waiting[:0]
	for _, e := range q.waiting {
		if now.Sub(e.JoinedAt) <= q.ttl {
			kept = append(kept, e)
		}
	}
	q.waiting = kept
}

// Join runs the pairing algorithm: validate, prune, replay an existing
// match idempotently, then either pop the oldest waiting entry (strict
// FIFO) or append the caller to the waiting list.
func (q *QueueActor) Join(ctx context.Context, req models.JoinRequest) (models.JoinResponse, error) {
	if err := validateJoin(&req, q.queueKey); err != nil {
		return models.JoinResponse{}, err
	}

	q.mu.Lock()
	q.ensureLoaded(ctx)
	now := time.Now()
	q.pruneStale(now)

	// Idempotent replay: a retried join by an already-matched user gets the
	// cached record verbatim.
	if sid, ok := q.matchByUser[req.UserID]; ok {
		record := q.matches[sid].ViewFor(req.UserID)
		q.mu.Unlock()
		log.Printf("🔁 Replaying cached match %s for user %s", sid, req.UserID)
		return matchResponse(record), nil
	}

	// Drop any stale waiting entry for the caller before pairing.
	for i, e := range q.waiting {
		if e.UserID == req.UserID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}

	if len(q.waiting) == 0 {
		q.waiting = append(q.waiting, models.WaitingEntry{
			UserID:   req.UserID,
			UserName: req.UserName,
			DeviceID: req.DeviceID,
			Emotion:  req.Emotion,
			Language: req.Language,
			Mode:     req.Mode,
			QueueKey: q.queueKey,
			JoinedAt: now,
		})
		q.meta.Stats.JoinCount++
		q.meta.UpdatedAt = now
		q.snapshot(ctx)
		waiting := len(q.waiting)
		q.mu.Unlock()
		log.Printf("⏳ User %s waiting in %s (%d queued)", req.UserID, q.queueKey, waiting)
		return models.JoinResponse{Matched: false, WaitingUsers: waiting}, nil
	}

	// Strict FIFO: the oldest waiting entry becomes the partner.
	partner := q.waiting[0]
	q.waiting = q.waiting[1:]

	sessionID := models.SessionID(req.UserID, partner.UserID)
	record := models.MatchRecord{
		SessionID:       sessionID,
		QueueKey:        q.queueKey,
		Filters:         q.meta.Filters,
		UserID:          req.UserID,
		UserName:        req.UserName,
		DeviceID:        req.DeviceID,
		PartnerID:       partner.UserID,
		PartnerName:     partner.UserName,
		PartnerDeviceID: partner.DeviceID,
		CreatedAt:       now,
		WsURL:           q.wsURL(req.SocketBase, sessionID, req.UserID, req.UserName),
		PartnerWsURL:    q.wsURL(req.SocketBase, sessionID, partner.UserID, partner.UserName),
	}
	q.matches[sessionID] = record
	q.matchByUser[req.UserID] = sessionID
	q.matchByUser[partner.UserID] = sessionID
	q.meta.Stats.MatchCount++
	q.meta.UpdatedAt = now
	q.snapshot(ctx)

	cfg := models.SessionConfig{
		SessionID: sessionID,
		QueueKey:  q.queueKey,
		Filters:   q.meta.Filters,
		Users: []models.SessionUser{
			{UserID: partner.UserID, UserName: partner.UserName, DeviceID: partner.DeviceID},
			{UserID: req.UserID, UserName: req.UserName, DeviceID: req.DeviceID},
		},
		CreatedAt: now,
	}
	q.mu.Unlock()

	// Bootstrap outside the critical section: the session registry may in
	// turn call back into a queue, and pairing state is already durable.
	if err := q.sessions.Bootstrap(ctx, cfg); err != nil {
		log.Printf("❌ Session bootstrap failed for %s: %v", sessionID, err)
		q.rollbackMatch(ctx, sessionID, partner)
		return models.JoinResponse{}, fmt.Errorf("session bootstrap for '%s' unavailable: %w", sessionID, err)
	}

	log.Printf("🤝 Paired %s with %s in %s (session %s)", req.UserID, partner.UserID, q.queueKey, sessionID)
	return matchResponse(record), nil
}

// rollbackMatch undoes a pairing whose session bootstrap failed, putting
// the partner back at the head of the queue so FIFO order is preserved.
func (q *QueueActor) rollbackMatch(ctx context.Context, sessionID string, partner models.WaitingEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if m, ok := q.matches[sessionID]; ok {
		delete(q.matches, sessionID)
		delete(q.matchByUser, m.UserID)
		delete(q.matchByUser, m.PartnerID)
		q.meta.Stats.MatchCount--
	}
	q.waiting = append([]models.WaitingEntry{partner}, q.waiting...)
	q.snapshot(ctx)
}

func matchResponse(record models.MatchRecord) models.JoinResponse {
	return models.JoinResponse{
		Matched:      true,
		SessionID:    record.SessionID,
		PartnerID:    record.PartnerID,
		PartnerName:  record.PartnerName,
		WsURL:        record.WsURL,
		PartnerWsURL: record.PartnerWsURL,
		CreatedAt:    record.CreatedAt,
	}
}

// Leave removes any waiting entry for the user and cancels any match they
// own, reporting what was removed.
func (q *QueueActor) Leave(ctx context.Context, userID string) (models.LeaveResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureLoaded(ctx)

	resp := models.LeaveResponse{}
	for i, e := range q.waiting {
		if e.UserID == userID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			resp.RemovedFromQueue = true
			break
		}
	}
	if sid, ok := q.matchByUser[userID]; ok {
		record := q.matches[sid]
		delete(q.matches, sid)
		delete(q.matchByUser, record.UserID)
		delete(q.matchByUser, record.PartnerID)
		canceled := record.ViewFor(userID)
		resp.MatchCanceled = true
		resp.CanceledMatch = &canceled
	}
	if resp.RemovedFromQueue || resp.MatchCanceled {
		q.meta.UpdatedAt = time.Now()
		q.snapshot(ctx)
		log.Printf("👋 User %s left %s (queue=%v, match=%v)", userID, q.queueKey, resp.RemovedFromQueue, resp.MatchCanceled)
	}
	return resp, nil
}

// Status returns a read-only view of the partition's counts.
func (q *QueueActor) Status(ctx context.Context) models.StatusResponse {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureLoaded(ctx)
	q.pruneStale(time.Now())

	return models.StatusResponse{
		QueueID:       q.meta.QueueID,
		Filters:       q.meta.Filters,
		Waiting:       len(q.waiting),
		ActiveMatches: len(q.matches),
		Stats:         q.meta.Stats,
		UpdatedAt:     q.meta.UpdatedAt,
	}
}

// Heal restores the partition from its snapshot ladder, then re-issues the
// session bootstrap for sessionId if a match record survives. Used when a
// session actor lost its configuration.
func (q *QueueActor) Heal(ctx context.Context, sessionID string) (models.HealResponse, error) {
	q.mu.Lock()
	q.ensureLoaded(ctx)
	record, ok := q.matches[sessionID]
	q.mu.Unlock()
	if !ok {
		return models.HealResponse{OK: true, Replayed: false}, nil
	}

	cfg := models.SessionConfig{
		SessionID: record.SessionID,
		QueueKey:  record.QueueKey,
		Filters:   record.Filters,
		Users: []models.SessionUser{
			{UserID: record.UserID, UserName: record.UserName, DeviceID: record.DeviceID},
			{UserID: record.PartnerID, UserName: record.PartnerName, DeviceID: record.PartnerDeviceID},
		},
		CreatedAt: record.CreatedAt,
	}
	if err := q.sessions.Bootstrap(ctx, cfg); err != nil {
		return models.HealResponse{}, fmt.Errorf("heal bootstrap for '%s' unavailable: %w", sessionID, err)
	}
	log.Printf("🩹 Replayed bootstrap for session %s", sessionID)
	return models.HealResponse{OK: true, Replayed: true}, nil
}

// flush re-writes the primary snapshot; the flusher calls this on the 15s
// cadence to cover timer-driven pruning.
func (q *QueueActor) flush(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.loaded {
		return
	}
	q.pruneStale(time.Now())
	q.snapshot(ctx)
}
