// Package context implements the Conversation Context Store (C10):
// write-through cache over a persistent store, with single-flight loading so
// concurrent readers for the same session share one cache-miss load (spec
// §4.10). Grounded on the teacher's errgroup-based fan-in idiom
// (internal/application/usecases/path_search_components.go), swapped here
// for x/sync's sibling singleflight.Group, which names the exact pattern the
// spec calls for.
package context

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// CacheTTLSeconds is the write-through cache lifetime (spec §4.10).
const CacheTTLSeconds = 30 * 60

// RecentMessageLimit is how many trailing messages a cache-miss load fetches.
const RecentMessageLimit = 10

// Store implements a write-through ConversationContext cache over a
// persistent ports.ConversationStore.
type Store struct {
	cache      ports.Cache
	persistent ports.ConversationStore
	loads      singleflight.Group

	mu          sync.Mutex // guards sessionLocks
	sessionLocks map[string]*sync.Mutex
}

func New(cache ports.Cache, persistent ports.ConversationStore) *Store {
	return &Store{
		cache:        cache,
		persistent:   persistent,
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

// Get returns the session's ConversationContext, serving from cache when
// present and otherwise loading once per session even under concurrent
// callers (spec §4.10, §5's single-flight shared-resource rule).
func (s *Store) Get(ctx context.Context, sessionID string) (*models.ConversationContext, error) {
	if cached, ok, err := s.readCache(ctx, sessionID); err != nil {
		slog.Warn("context: cache read failed, falling through to store", "session_id", sessionID, "error", err)
	} else if ok {
		return cached, nil
	}

	v, err, _ := s.loads.Do(sessionID, func() (any, error) {
		return s.load(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ConversationContext), nil
}

func (s *Store) load(ctx context.Context, sessionID string) (*models.ConversationContext, error) {
	session, err := s.persistent.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := s.persistent.RecentMessages(ctx, sessionID, RecentMessageLimit)
	if err != nil {
		return nil, err
	}

	convCtx := models.NewConversationContext(sessionID, RecentMessageLimit)
	convCtx.PinnedContext = session.PinnedContext
	convCtx.Preferences = session.Preferences
	for _, m := range messages {
		convCtx.AppendMessage(m)
	}

	s.writeCache(ctx, sessionID, convCtx)
	return convCtx, nil
}

// Put writes through: cache first (so subsequent reads are fast), then the
// persistent session row.
func (s *Store) Put(ctx context.Context, sessionID string, convCtx *models.ConversationContext, session *models.Session) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s.writeCache(ctx, sessionID, convCtx)
	return s.persistent.PutSession(ctx, session)
}

// AppendMessage writes through the new message, then refreshes the cached
// context so later Gets observe it without a reload.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, convCtx *models.ConversationContext, message *models.Message) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.persistent.AppendMessage(ctx, sessionID, message); err != nil {
		return err
	}
	convCtx.AppendMessage(message)
	s.writeCache(ctx, sessionID, convCtx)
	return nil
}

func (s *Store) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sessionLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[sessionID] = lock
	}
	return lock
}

func (s *Store) readCache(ctx context.Context, sessionID string) (*models.ConversationContext, bool, error) {
	data, ok, err := s.cache.Get(ctx, cacheKey(sessionID))
	if err != nil || !ok {
		return nil, false, err
	}
	var convCtx models.ConversationContext
	if err := json.Unmarshal(data, &convCtx); err != nil {
		return nil, false, err
	}
	return &convCtx, true, nil
}

func (s *Store) writeCache(ctx context.Context, sessionID string, convCtx *models.ConversationContext) {
	data, err := json.Marshal(convCtx)
	if err != nil {
		slog.Warn("context: failed to marshal context for cache", "session_id", sessionID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(sessionID), data, CacheTTLSeconds); err != nil {
		slog.Warn("context: cache write failed", "session_id", sessionID, "error", err)
	}
}

func cacheKey(sessionID string) string {
	return "conv_ctx:" + sessionID
}
