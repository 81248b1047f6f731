package services

import (
	"context"
	"sync"
	"time"

	"pairchat_server/models"
	"pairchat_server/storage"
)

// QueueService is the per-partition actor registry. Each queue key owns
// exactly one QueueActor; the registry only hands out instances, all state
// lives inside them.
type QueueService struct {
	State      storage.StateStore
	Backup     storage.BackupStore
	Sessions   SessionBootstrapper
	TTL        time.Duration
	SocketBase string

	mu     sync.Mutex
	actors map[string]*QueueActor
}

// NewQueueService builds a registry over the given snapshot tiers. The
// session bootstrapper is wired afterwards in main to break the cycle
// between the two services.
func NewQueueService(state storage.StateStore, backup storage.BackupStore, ttl time.Duration, socketBase string) *QueueService {
	return &QueueService{
		State:      state,
		Backup:     backup,
		TTL:        ttl,
		SocketBase: socketBase,
		actors:     map[string]*QueueActor{},
	}
}

// Actor returns the queue actor for a key, creating it on first use. The
// actor loads its durable state inside its own first invocation, so actor
// creation never blocks other partitions.
func (s *QueueService) Actor(queueKey string) *QueueActor {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[queueKey]
	if !ok {
		a = newQueueActor(queueKey, s.State, s.Backup, s.Sessions, s.TTL, s.SocketBase)
		s.actors[queueKey] = a
	}
	return a
}

func (s *QueueService) snapshotActors() []*QueueActor {
	s.mu.Lock()
	defer s.mu.Unlock()
	actors := make([]*QueueActor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	return actors
}

// Join resolves the partition key and runs the pairing algorithm on its
// actor.
func (s *QueueService) Join(ctx context.Context, req models.JoinRequest) (models.JoinResponse, error) {
	queueKey := req.EffectiveQueueKey()
	if queueKey == "" {
		return models.JoinResponse{}, &models.ValidationError{Field: "queueKey", Reason: "missing"}
	}
	return s.Actor(queueKey).Join(ctx, req)
}

// Leave removes the user from the partition's waiting list and match index.
func (s *QueueService) Leave(ctx context.Context, queueKey, userID string) (models.LeaveResponse, error) {
	if queueKey == "" {
		return models.LeaveResponse{}, &models.ValidationError{Field: "queueKey", Reason: "missing"}
	}
	if userID == "" {
		return models.LeaveResponse{}, &models.ValidationError{Field: "userId", Reason: "missing"}
	}
	return s.Actor(queueKey).Leave(ctx, userID)
}

// Status reports the partition's current counts.
func (s *QueueService) Status(ctx context.Context, queueKey string) (models.StatusResponse, error) {
	if queueKey == "" {
		return models.StatusResponse{}, &models.ValidationError{Field: "queueKey", Reason: "missing"}
	}
	return s.Actor(queueKey).Status(ctx), nil
}

// Heal replays a session bootstrap from the partition's match index.
func (s *QueueService) Heal(ctx context.Context, queueKey, sessionID string) (models.HealResponse, error) {
	if queueKey == "" {
		return models.HealResponse{}, &models.ValidationError{Field: "queueKey", Reason: "missing"}
	}
	if sessionID == "" {
		return models.HealResponse{}, &models.ValidationError{Field: "sessionId", Reason: "missing"}
	}
	return s.Actor(queueKey).Heal(ctx, sessionID)
}

// StartFlushers runs the primary (15s) and backup (5min) snapshot loops
// until the context is canceled.
func (s *QueueService) StartFlushers(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(models.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, a := range s.snapshotActors() {
					a.flush(ctx)
				}
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(models.BackupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, a := range s.snapshotActors() {
					a.writeBackup(ctx)
				}
			}
		}
	}()
}
