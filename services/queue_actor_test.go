package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat_server/models"
	"pairchat_server/storage"
)

func newTestServices(ttl time.Duration) (*QueueService, *SessionService, *storage.MemoryStore) {
	mem := storage.NewMemoryStore()
	qs := NewQueueService(mem, mem, ttl, "ws://test")
	ss := NewSessionService(mem, mem, time.Minute)
	qs.Sessions = ss
	ss.Queues = qs
	return qs, ss, mem
}

func joinReq(userID string) models.JoinRequest {
	return models.JoinRequest{
		UserID:   userID,
		UserName: "name-" + userID,
		DeviceID: "device-" + userID,
		QueueKey: "mood:😊",
	}
}

// seedWaiting puts entries straight into the actor's waiting list, oldest
// first, so FIFO and TTL behavior can be observed with >1 waiter.
func seedWaiting(qs *QueueService, queueKey string, entries ...models.WaitingEntry) *QueueActor {
	a := qs.Actor(queueKey)
	a.mu.Lock()
	a.loaded = true
	a.meta = models.QueueMetadata{
		QueueID:   QueueID(queueKey),
		Filters:   models.DeriveFilters(queueKey),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	a.waiting = append(a.waiting, entries...)
	a.mu.Unlock()
	return a
}

func waiter(userID string, age time.Duration) models.WaitingEntry {
	return models.WaitingEntry{
		UserID:   userID,
		UserName: "name-" + userID,
		DeviceID: "device-" + userID,
		QueueKey: "mood:😊",
		JoinedAt: time.Now().Add(-age),
	}
}

func TestJoinValidation(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	ctx := context.Background()

	cases := []models.JoinRequest{
		{UserName: "n", DeviceID: "d", QueueKey: "mood:😊"},
		{UserID: "u", DeviceID: "d", QueueKey: "mood:😊"},
		{UserID: "u", UserName: "n", QueueKey: "mood:😊"},
		{UserID: "u", UserName: "n", DeviceID: "d"},
		{UserID: "   ", UserName: "n", DeviceID: "d", QueueKey: "mood:😊"},
		{UserID: strings.Repeat("x", 129), UserName: "n", DeviceID: "d", QueueKey: "mood:😊"},
		{UserID: "u", UserName: strings.Repeat("x", 65), DeviceID: "d", QueueKey: "mood:😊"},
		{UserID: "u", UserName: "n", DeviceID: "d", QueueKey: strings.Repeat("x", 257)},
	}
	for _, req := range cases {
		_, err := qs.Join(ctx, req)
		var vErr *models.ValidationError
		require.Error(t, err)
		assert.True(t, errors.As(err, &vErr), "expected ValidationError for %+v", req)
	}
}

func TestJoinWaitsWhenQueueEmpty(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)

	resp, err := qs.Join(context.Background(), joinReq("alice"))
	require.NoError(t, err)
	assert.False(t, resp.Matched)
	assert.Equal(t, 1, resp.WaitingUsers)

	status, err := qs.Status(context.Background(), "mood:😊")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Waiting)
	assert.Equal(t, 0, status.ActiveMatches)
	assert.Equal(t, 1, status.Stats.JoinCount)
}

func TestJoinPairsWithOldestWaiter(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	a := seedWaiting(qs, "mood:😊", waiter("alice", 2*time.Second), waiter("bob", time.Second))

	resp, err := qs.Join(context.Background(), joinReq("carol"))
	require.NoError(t, err)
	assert.True(t, resp.Matched)
	assert.Equal(t, "alice", resp.PartnerID)
	assert.Equal(t, models.SessionID("carol", "alice"), resp.SessionID)
	assert.Contains(t, resp.WsURL, "sessionId=")
	assert.Contains(t, resp.WsURL, "userId=carol")
	assert.Contains(t, resp.PartnerWsURL, "userId=alice")

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.waiting, 1)
	assert.Equal(t, "bob", a.waiting[0].UserID)
}

func TestJoinPairScenario(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	ctx := context.Background()

	respA, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	assert.False(t, respA.Matched)

	respB, err := qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)
	assert.True(t, respB.Matched)
	assert.Equal(t, "alice", respB.PartnerID)
	assert.Equal(t, "name-alice", respB.PartnerName)

	status, err := qs.Status(ctx, "mood:😊")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Waiting)
	assert.Equal(t, 1, status.ActiveMatches)
	assert.Equal(t, 1, status.Stats.MatchCount)
}

func TestJoinIdempotentReplay(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	first, err := qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)
	require.True(t, first.Matched)

	second, err := qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The partner's retry resolves to the same session, seen from its side.
	partnerView, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	assert.True(t, partnerView.Matched)
	assert.Equal(t, first.SessionID, partnerView.SessionID)
	assert.Equal(t, "bob", partnerView.PartnerID)

	// Replays never queue anybody up again.
	status, err := qs.Status(ctx, "mood:😊")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Waiting)
	assert.Equal(t, 1, status.ActiveMatches)
}

func TestExpiredWaiterIsNeverPaired(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	seedWaiting(qs, "mood:😊", waiter("alice", 31*time.Second))

	resp, err := qs.Join(context.Background(), joinReq("bob"))
	require.NoError(t, err)
	assert.False(t, resp.Matched)
	assert.Equal(t, 1, resp.WaitingUsers) // bob alone; alice was pruned

	status, err := qs.Status(context.Background(), "mood:😊")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Waiting)
}

func TestRejoinReplacesOwnStaleEntry(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	resp, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)

	// A second join by the sole waiter must not pair them with themselves.
	assert.False(t, resp.Matched)
	assert.Equal(t, 1, resp.WaitingUsers)
}

func TestLeaveRemovesWaiterAndCancelsMatch(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	left, err := qs.Leave(ctx, "mood:😊", "alice")
	require.NoError(t, err)
	assert.True(t, left.RemovedFromQueue)
	assert.False(t, left.MatchCanceled)

	_, err = qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	matched, err := qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)
	require.True(t, matched.Matched)

	left, err = qs.Leave(ctx, "mood:😊", "alice")
	require.NoError(t, err)
	assert.False(t, left.RemovedFromQueue)
	assert.True(t, left.MatchCanceled)
	require.NotNil(t, left.CanceledMatch)
	assert.Equal(t, matched.SessionID, left.CanceledMatch.SessionID)
	assert.Equal(t, "alice", left.CanceledMatch.UserID)

	// Both index entries are gone: bob's next join queues instead of replaying.
	resp, err := qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)
	assert.False(t, resp.Matched)

	status, err := qs.Status(ctx, "mood:😊")
	require.NoError(t, err)
	assert.Equal(t, 0, status.ActiveMatches)
}

func TestAtMostOneMatchPerUser(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	_, err = qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)
	_, err = qs.Join(ctx, joinReq("carol"))
	require.NoError(t, err)
	_, err = qs.Join(ctx, joinReq("dave"))
	require.NoError(t, err)

	a := qs.Actor("mood:😊")
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := map[string]int{}
	for _, m := range a.matches {
		seen[m.UserID]++
		seen[m.PartnerID]++
	}
	for user, count := range seen {
		assert.Equal(t, 1, count, "user %s referenced by %d match records", user, count)
	}
}

func TestSnapshotRecoveryFromDurableTier(t *testing.T) {
	qs, _, mem := newTestServices(30 * time.Second)
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	_, err = qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)

	// A recreated service (actor evicted) restores from the awaited snapshot.
	qs2 := NewQueueService(mem, mem, 30*time.Second, "ws://test")
	qs2.Sessions = &recordingBootstrapper{}
	status, err := qs2.Status(ctx, "mood:😊")
	require.NoError(t, err)
	assert.Equal(t, 1, status.ActiveMatches)

	replay, err := qs2.Join(ctx, joinReq("bob"))
	require.NoError(t, err)
	assert.True(t, replay.Matched)
	assert.Equal(t, "alice", replay.PartnerID)
}

func TestSnapshotRecoveryFromBackupTier(t *testing.T) {
	qs, _, mem := newTestServices(30 * time.Second)
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	_, err = qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)
	qs.Actor("mood:😊").writeBackup(ctx)

	// Lose the durable tier; only the backup object remains.
	require.NoError(t, mem.Delete(ctx, models.QueueSnapshotsTable, QueueID("mood:😊")))

	qs2 := NewQueueService(mem, mem, 30*time.Second, "ws://test")
	qs2.Sessions = &recordingBootstrapper{}
	status, err := qs2.Status(ctx, "mood:😊")
	require.NoError(t, err)
	assert.Equal(t, 1, status.ActiveMatches)
}

type recordingBootstrapper struct {
	mu   sync.Mutex
	cfgs []models.SessionConfig
}

func (r *recordingBootstrapper) Bootstrap(ctx context.Context, cfg models.SessionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgs = append(r.cfgs, cfg)
	return nil
}

type failingBootstrapper struct{}

func (failingBootstrapper) Bootstrap(context.Context, models.SessionConfig) error {
	return errors.New("session tier down")
}

func TestHealReplaysBootstrap(t *testing.T) {
	qs, _, mem := newTestServices(30 * time.Second)
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	matched, err := qs.Join(ctx, joinReq("bob"))
	require.NoError(t, err)

	// Fresh registry with a recording session tier: heal must restore the
	// partition state and re-issue the original bootstrap.
	rec := &recordingBootstrapper{}
	qs2 := NewQueueService(mem, mem, 30*time.Second, "ws://test")
	qs2.Sessions = rec

	resp, err := qs2.Heal(ctx, "mood:😊", matched.SessionID)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.True(t, resp.Replayed)
	require.Len(t, rec.cfgs, 1)
	assert.Equal(t, matched.SessionID, rec.cfgs[0].SessionID)
	ids := []string{rec.cfgs[0].Users[0].UserID, rec.cfgs[0].Users[1].UserID}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)

	unknown, err := qs2.Heal(ctx, "mood:😊", "nope_nope")
	require.NoError(t, err)
	assert.True(t, unknown.OK)
	assert.False(t, unknown.Replayed)
}

func TestBootstrapFailureRollsBackPairing(t *testing.T) {
	mem := storage.NewMemoryStore()
	qs := NewQueueService(mem, mem, 30*time.Second, "ws://test")
	qs.Sessions = failingBootstrapper{}
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)
	_, err = qs.Join(ctx, joinReq("bob"))
	require.Error(t, err)
	var vErr *models.ValidationError
	assert.False(t, errors.As(err, &vErr), "bootstrap failure is not a validation error")

	// The partner is back at the head of the queue and nobody is matched.
	status, err := qs.Status(ctx, "mood:😊")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Waiting)
	assert.Equal(t, 0, status.ActiveMatches)

	a := qs.Actor("mood:😊")
	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.waiting, 1)
	assert.Equal(t, "alice", a.waiting[0].UserID)
}

func TestPartitionsDoNotMix(t *testing.T) {
	qs, _, _ := newTestServices(30 * time.Second)
	ctx := context.Background()

	_, err := qs.Join(ctx, joinReq("alice"))
	require.NoError(t, err)

	req := joinReq("raj")
	req.QueueKey = "language:hindi"
	resp, err := qs.Join(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.Matched, "cross-partition pairing must never happen")
}
