package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pairchat_server/models"
	"pairchat_server/storage"
)

// ClientConn is the session actor's view of one attached chat socket.
// socket.Conn implements it; tests use fakes.
type ClientConn interface {
	SendJSON(v interface{}) error
	Close(code int, reason string) error
}

// PartnerFinder is the outbound session → queue call surface. Implemented
// by QueueService.
type PartnerFinder interface {
	Join(ctx context.Context, req models.JoinRequest) (models.JoinResponse, error)
	Leave(ctx context.Context, queueKey, userID string) (models.LeaveResponse, error)
	Heal(ctx context.Context, queueKey, sessionID string) (models.HealResponse, error)
}

// SessionActor owns one paired conversation: at most two attached sockets,
// the bounded history buffer, idle supervision and teardown. Invocations
// serialize on mu.
type SessionActor struct {
	sessionID   string
	state       storage.StateStore
	backup      storage.BackupStore
	queues      PartnerFinder
	idleTimeout time.Duration
	onTerminate func(sessionID string)

	mu         sync.Mutex
	loaded     bool
	epoch      int
	config     *models.SessionConfig
	conns      map[string]ClientConn
	history    []models.ChatMessageRecord
	stats      models.SessionStats
	idleTimer  *time.Timer
	rematching bool
	terminated bool
	gone       map[string]bool
}

func newSessionActor(sessionID string, state storage.StateStore, backup storage.BackupStore, queues PartnerFinder, idleTimeout time.Duration, onTerminate func(string)) *SessionActor {
	return &SessionActor{
		sessionID:   sessionID,
		state:       state,
		backup:      backup,
		queues:      queues,
		idleTimeout: idleTimeout,
		onTerminate: onTerminate,
		conns:       map[string]ClientConn{},
		gone:        map[string]bool{},
	}
}

func (a *SessionActor) terminalKey() string {
	return "sessions/" + a.sessionID + "/terminal.json"
}

// ensureLoaded restores config, history and stats from the durable tier on
// the actor's first invocation.
func (a *SessionActor) ensureLoaded(ctx context.Context) {
	if a.loaded {
		return
	}
	a.loaded = true

	var st models.SessionState
	found, err := a.state.Get(ctx, models.SessionStateTable, a.sessionID, &st)
	if err != nil {
		log.Printf("❌ Failed to read session state for %s: %v", a.sessionID, err)
		return
	}
	if !found {
		return
	}
	a.config = st.Config
	a.history = st.History
	a.stats = st.Stats
	if a.config != nil {
		log.Printf("✅ Session %s restored from durable state (%d history entries)", a.sessionID, len(a.history))
	}
}

// armIdle re-arms the single pending idle deadline.
func (a *SessionActor) armIdle() {
	if a.idleTimer != nil {
		a.idleTimer.Stop()
	}
	a.idleTimer = time.AfterFunc(a.idleTimeout, a.onIdle)
}

// onIdle destroys an empty session; an occupied one stays under
// supervision for another interval.
func (a *SessionActor) onIdle() {
	a.mu.Lock()
	if a.terminated {
		a.mu.Unlock()
		return
	}
	if len(a.conns) > 0 {
		a.armIdle()
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.terminate("idle")
}

// HasConfig reports whether the actor holds a session configuration.
func (a *SessionActor) HasConfig(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLoaded(ctx)
	return a.config != nil
}

// applyConfig adopts a (re-)supplied SessionConfig and arms the idle timer.
// A terminated actor is revived: rematch can re-pair the same two users
// into the same session id.
func (a *SessionActor) applyConfig(cfg models.SessionConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loaded = true
	a.epoch++
	a.config = &cfg
	a.terminated = false
	a.rematching = false
	a.gone = map[string]bool{}
	a.armIdle()
	log.Printf("🚀 Session %s configured for %s and %s", cfg.SessionID, cfg.Users[0].UserID, cfg.Users[1].UserID)
}

// Attach registers a socket, replays recent history to it and announces
// presence to both sides.
func (a *SessionActor) Attach(ctx context.Context, conn ClientConn, userID, userName string) error {
	a.mu.Lock()
	a.ensureLoaded(ctx)
	if a.config == nil || a.terminated {
		a.mu.Unlock()
		return ErrSessionUnavailable
	}
	user, ok := a.config.UserNamed(userID)
	if !ok {
		a.mu.Unlock()
		conn.SendJSON(models.Frame{Type: models.FrameError, Message: "user is not part of this session"})
		conn.Close(models.ClosePolicy, "unknown participant")
		return ErrSessionUnavailable
	}
	if userName == "" {
		userName = user.UserName
	}

	if old, ok := a.conns[userID]; ok {
		old.Close(models.CloseNormal, "replaced by a new connection")
	}
	a.conns[userID] = conn
	delete(a.gone, userID)

	// Replay the tail of the history buffer to the new socket.
	replay := a.history
	if len(replay) > models.HistoryReplay {
		replay = replay[len(replay)-models.HistoryReplay:]
	}
	conn.SendJSON(models.Frame{Type: models.FrameHistory, Messages: replay})

	partner, _ := a.config.PartnerOf(userID)
	now := time.Now().Format(time.RFC3339)
	if partnerConn, ok := a.conns[partner.UserID]; ok {
		// Both sides present: tell each about the other.
		conn.SendJSON(models.Frame{Type: models.FramePartnerConnected, UserID: partner.UserID, UserName: partner.UserName, Timestamp: now})
		partnerConn.SendJSON(models.Frame{Type: models.FramePartnerConnected, UserID: userID, UserName: userName, Timestamp: now})
	} else {
		// Partner not here yet: name only, so the UI can render a waiting label.
		conn.SendJSON(models.Frame{Type: models.FramePartnerInfo, UserID: partner.UserID, UserName: partner.UserName, Timestamp: now})
	}
	a.armIdle()
	a.mu.Unlock()

	log.Printf("🔌 User %s attached to session %s", userID, a.sessionID)
	return nil
}

// Message appends to the bounded history and relays to the other attached
// socket only. Empty and oversized texts are dropped silently.
func (a *SessionActor) Message(ctx context.Context, userID, text string) {
	if text == "" || len(text) > models.MaxMessageLen {
		return
	}

	a.mu.Lock()
	a.ensureLoaded(ctx)
	if a.config == nil || a.terminated {
		a.mu.Unlock()
		return
	}
	user, ok := a.config.UserNamed(userID)
	if !ok {
		a.mu.Unlock()
		return
	}

	record := models.ChatMessageRecord{
		MessageID: uuid.New().String(),
		UserID:    userID,
		UserName:  user.UserName,
		Message:   text,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	a.history = append(a.history, record)
	if len(a.history) > models.HistoryCap {
		a.history = a.history[len(a.history)-models.HistoryCap:]
	}
	a.stats.TotalMessages++

	frame := models.Frame{
		Type:      models.FrameChatMessage,
		UserID:    record.UserID,
		UserName:  record.UserName,
		Message:   record.Message,
		Timestamp: record.Timestamp,
	}
	for id, c := range a.conns {
		if id != userID {
			if err := c.SendJSON(frame); err != nil {
				// Swallowed: the close/error event is the authoritative
				// signal that a participant is gone.
				log.Printf("⚠️ Relay to %s in session %s failed: %v", id, a.sessionID, err)
			}
		}
	}
	st := a.durableState()
	a.mu.Unlock()

	// Persist history and stats off the relay path.
	go func() {
		a.mu.Lock()
		dead := a.terminated
		a.mu.Unlock()
		if dead {
			return
		}
		if err := a.state.Put(context.Background(), models.SessionStateTable, a.sessionID, st); err != nil {
			log.Printf("❌ Session state write failed for %s: %v", a.sessionID, err)
		}
	}()
}

// durableState builds the SessionState document. Caller holds mu.
func (a *SessionActor) durableState() models.SessionState {
	history := make([]models.ChatMessageRecord, len(a.history))
	copy(history, a.history)
	return models.SessionState{
		SessionID: a.sessionID,
		Config:    a.config,
		History:   history,
		Stats:     a.stats,
		SavedAt:   time.Now(),
	}
}

// Rematch re-runs matchmaking for both participants on the session's
// original queue key, then tears this session down. A single in-flight
// flag makes duplicate "next" triggers no-ops.
func (a *SessionActor) Rematch(ctx context.Context, userID string) {
	a.mu.Lock()
	a.ensureLoaded(ctx)
	if a.config == nil || a.terminated || a.rematching {
		a.mu.Unlock()
		return
	}
	a.rematching = true
	cfg := *a.config
	epoch := a.epoch
	conns := map[string]ClientConn{}
	for id, c := range a.conns {
		conns[id] = c
	}
	notice := models.Frame{Type: models.FrameSystem, Text: "Finding you a new partner..."}
	for _, c := range conns {
		c.SendJSON(notice)
	}
	a.mu.Unlock()

	// Queue calls run outside the critical section: pairing may bootstrap
	// another session, including this very id when the same two users are
	// re-paired.
	for _, u := range cfg.Users {
		a.queues.Leave(ctx, cfg.QueueKey, u.UserID)
	}
	for _, u := range cfg.Users {
		resp, err := a.queues.Join(ctx, models.JoinRequest{
			UserID:   u.UserID,
			UserName: u.UserName,
			DeviceID: u.DeviceID,
			QueueKey: cfg.QueueKey,
		})
		conn, attached := conns[u.UserID]
		if !attached {
			continue
		}
		switch {
		case err != nil:
			conn.SendJSON(models.Frame{Type: models.FrameMatchResult, Status: "error", Message: "rematch failed, please rejoin"})
		case resp.Matched:
			conn.SendJSON(models.Frame{
				Type:      models.FrameMatchResult,
				Status:    "matched",
				SessionID: resp.SessionID,
				PartnerID: resp.PartnerID,
				WsURL:     resp.WsURL,
			})
		default:
			conn.SendJSON(models.Frame{Type: models.FrameMatchResult, Status: "waiting", Message: "Waiting for a new partner"})
		}
	}
	for _, c := range conns {
		c.Close(models.CloseNormal, "rematched")
	}

	a.mu.Lock()
	a.conns = map[string]ClientConn{}
	a.mu.Unlock()
	log.Printf("🔀 Session %s rematched by %s", a.sessionID, userID)

	// Deferred cleanup lets the closing frames drain. Skipped if a new
	// pairing re-configured this actor in the meantime.
	time.AfterFunc(2*time.Second, func() {
		a.terminateIfEpoch(epoch, "rematch")
	})
}

// Leave closes the leaving socket with a goodbye, tells the remaining
// participant and schedules cleanup once the room is empty.
func (a *SessionActor) Leave(ctx context.Context, userID string) {
	a.mu.Lock()
	a.ensureLoaded(ctx)
	if a.terminated {
		a.mu.Unlock()
		return
	}
	epoch := a.epoch
	now := time.Now().Format(time.RFC3339)
	if conn, ok := a.conns[userID]; ok {
		conn.SendJSON(models.Frame{Type: models.FrameSystem, Text: "You left the chat"})
		conn.Close(models.CloseNormal, "left")
		delete(a.conns, userID)
	}
	a.gone[userID] = true
	userName := userID
	var queueKey string
	if a.config != nil {
		if u, ok := a.config.UserNamed(userID); ok {
			userName = u.UserName
		}
		queueKey = a.config.QueueKey
	}
	for _, c := range a.conns {
		c.SendJSON(models.Frame{Type: models.FramePartnerDisconnected, UserID: userID, UserName: userName, Timestamp: now})
	}
	empty := len(a.conns) == 0
	a.mu.Unlock()

	if queueKey != "" {
		a.queues.Leave(ctx, queueKey, userID)
	}
	if empty {
		time.AfterFunc(2*time.Second, func() {
			a.terminateIfEpoch(epoch, "leave")
		})
	}
	log.Printf("👋 User %s left session %s", userID, a.sessionID)
}

// Disconnect handles a socket close or error. Idempotent per user; with no
// sockets left the session terminates directly instead of waiting for the
// idle timer.
func (a *SessionActor) Disconnect(ctx context.Context, userID string) {
	a.mu.Lock()
	if a.terminated || a.gone[userID] {
		a.mu.Unlock()
		return
	}
	a.gone[userID] = true
	delete(a.conns, userID)
	rematching := a.rematching
	userName := userID
	var queueKey string
	if a.config != nil {
		if u, ok := a.config.UserNamed(userID); ok {
			userName = u.UserName
		}
		queueKey = a.config.QueueKey
	}
	now := time.Now().Format(time.RFC3339)
	for _, c := range a.conns {
		c.SendJSON(models.Frame{Type: models.FramePartnerDisconnected, UserID: userID, UserName: userName, Timestamp: now})
	}
	empty := len(a.conns) == 0
	a.mu.Unlock()

	if rematching {
		// Rematch already re-queued both users and scheduled cleanup;
		// touching the queue here would cancel their fresh matches.
		return
	}
	if queueKey != "" {
		// Defensive: covers the case where leave was never called.
		a.queues.Leave(ctx, queueKey, userID)
	}
	log.Printf("🔌 User %s disconnected from session %s", userID, a.sessionID)
	if empty {
		a.terminate("disconnect")
	}
}

func (a *SessionActor) terminateIfEpoch(epoch int, reason string) {
	a.mu.Lock()
	stale := a.epoch != epoch
	a.mu.Unlock()
	if !stale {
		a.terminate(reason)
	}
}

// terminate flushes a terminal snapshot to the backup tier, immediately
// deletes it again (transient audit trail, not storage), deletes all
// durable state and clears memory.
func (a *SessionActor) terminate(reason string) {
	a.mu.Lock()
	if a.terminated {
		a.mu.Unlock()
		return
	}
	a.terminated = true
	if a.idleTimer != nil {
		a.idleTimer.Stop()
	}
	var userIDs []string
	if a.config != nil {
		for _, u := range a.config.Users {
			userIDs = append(userIDs, u.UserID)
		}
	}
	snap := models.TerminalSnapshot{
		SessionID:     a.sessionID,
		EndedAt:       time.Now(),
		Reason:        reason,
		UserIDs:       userIDs,
		TotalMessages: a.stats.TotalMessages,
	}
	for _, c := range a.conns {
		c.Close(models.CloseNormal, "session ended")
	}
	a.conns = map[string]ClientConn{}
	a.config = nil
	a.history = nil
	a.stats = models.SessionStats{}
	a.mu.Unlock()

	ctx := context.Background()
	if err := a.backup.PutObject(ctx, a.terminalKey(), snap); err != nil {
		log.Printf("❌ Terminal snapshot write failed for %s: %v", a.sessionID, err)
	} else if err := a.backup.DeleteObject(ctx, a.terminalKey()); err != nil {
		log.Printf("❌ Terminal snapshot delete failed for %s: %v", a.sessionID, err)
	}
	if err := a.state.Delete(ctx, models.SessionStateTable, a.sessionID); err != nil {
		log.Printf("❌ Session state delete failed for %s: %v", a.sessionID, err)
	}
	if a.onTerminate != nil {
		a.onTerminate(a.sessionID)
	}
	log.Printf("🛑 Session %s terminated (%s)", a.sessionID, reason)
}
