package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"pairchat_server/models"
	"pairchat_server/storage"
)

// ErrSessionUnavailable means a connecting socket could not be attached:
// the session has no configuration and neither the durable tier nor a heal
// could produce one. The socket has already been closed with a
// distinguishing code when this is returned.
var ErrSessionUnavailable = errors.New("session unavailable")

// SessionService is the per-session actor registry.
type SessionService struct {
	State       storage.StateStore
	Backup      storage.BackupStore
	Queues      PartnerFinder
	IdleTimeout time.Duration

	mu     sync.Mutex
	actors map[string]*SessionActor
}

// NewSessionService builds a registry over the given snapshot tiers. The
// queue side is wired afterwards in main.
func NewSessionService(state storage.StateStore, backup storage.BackupStore, idleTimeout time.Duration) *SessionService {
	return &SessionService{
		State:       state,
		Backup:      backup,
		IdleTimeout: idleTimeout,
		actors:      map[string]*SessionActor{},
	}
}

// Actor returns the session actor for an id, creating it on first use.
func (s *SessionService) Actor(sessionID string) *SessionActor {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[sessionID]
	if !ok {
		a = newSessionActor(sessionID, s.State, s.Backup, s.Queues, s.IdleTimeout, s.drop)
		s.actors[sessionID] = a
	}
	return a
}

// drop removes a terminated actor from the registry.
func (s *SessionService) drop(sessionID string) {
	s.mu.Lock()
	delete(s.actors, sessionID)
	s.mu.Unlock()
}

// Bootstrap stores the config durably, then applies it to the actor and
// arms its idle timer. Called by the queue on pairing and again via heal.
func (s *SessionService) Bootstrap(ctx context.Context, cfg models.SessionConfig) error {
	if cfg.SessionID == "" {
		return &models.ValidationError{Field: "sessionId", Reason: "missing"}
	}
	if len(cfg.Users) != models.MaxSessionSize {
		return &models.ValidationError{Field: "users", Reason: "exactly two participants required"}
	}

	// Durable write first, so a socket polling for config can find it even
	// while the actor is busy.
	st := models.SessionState{SessionID: cfg.SessionID, Config: &cfg, SavedAt: time.Now()}
	var existing models.SessionState
	if found, err := s.State.Get(ctx, models.SessionStateTable, cfg.SessionID, &existing); err == nil && found {
		st.History = existing.History
		st.Stats = existing.Stats
	}
	if err := s.State.Put(ctx, models.SessionStateTable, cfg.SessionID, st); err != nil {
		log.Printf("❌ Session config write failed for %s: %v", cfg.SessionID, err)
	}

	s.Actor(cfg.SessionID).applyConfig(cfg)
	return nil
}

// Attach wires an upgraded socket into its session. When the actor has no
// configuration it polls the durable tier briefly, then asks the owning
// partition queue to heal, and only then gives up: the socket is closed
// with a distinguishing code so the client resumes matchmaking.
func (s *SessionService) Attach(ctx context.Context, sessionID, queueKey, userID, userName string, conn ClientConn) error {
	a := s.Actor(sessionID)

	if !a.HasConfig(ctx) {
		if cfg, ok := s.pollConfig(ctx, sessionID); ok {
			a.applyConfig(cfg)
		} else if queueKey != "" {
			if _, err := s.Queues.Heal(ctx, queueKey, sessionID); err != nil {
				log.Printf("❌ Heal failed for session %s: %v", sessionID, err)
			}
		}
	}
	if !a.HasConfig(ctx) {
		conn.SendJSON(models.Frame{Type: models.FrameSystem, Text: "Session could not be restored. Please rejoin matchmaking."})
		conn.Close(models.CloseNoConfig, "session unconfigured")
		return ErrSessionUnavailable
	}
	return a.Attach(ctx, conn, userID, userName)
}

// pollConfig checks the durable tier a few times for a freshly written
// config before falling back to heal.
func (s *SessionService) pollConfig(ctx context.Context, sessionID string) (models.SessionConfig, bool) {
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(150 * time.Millisecond)
		}
		var st models.SessionState
		found, err := s.State.Get(ctx, models.SessionStateTable, sessionID, &st)
		if err != nil {
			log.Printf("❌ Config poll failed for session %s: %v", sessionID, err)
			continue
		}
		if found && st.Config != nil {
			return *st.Config, true
		}
	}
	return models.SessionConfig{}, false
}

// Message relays one chat message inside a session.
func (s *SessionService) Message(ctx context.Context, sessionID, userID, text string) {
	s.Actor(sessionID).Message(ctx, userID, text)
}

// Rematch handles a "next" request.
func (s *SessionService) Rematch(ctx context.Context, sessionID, userID string) {
	s.Actor(sessionID).Rematch(ctx, userID)
}

// Leave handles an explicit in-chat leave.
func (s *SessionService) Leave(ctx context.Context, sessionID, userID string) {
	s.Actor(sessionID).Leave(ctx, userID)
}

// Disconnect handles a socket close or error.
func (s *SessionService) Disconnect(ctx context.Context, sessionID, userID string) {
	s.Actor(sessionID).Disconnect(ctx, userID)
}
