package context

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sageclinic/orchestrator/internal/domain"
	"github.com/sageclinic/orchestrator/internal/domain/models"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}
func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}
func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type fakeConversationStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	loads    int
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
	}
}

func (f *fakeConversationStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	time.Sleep(5 * time.Millisecond) // exercise single-flight coalescing
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}
func (f *fakeConversationStore) PutSession(ctx context.Context, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	return nil
}
func (f *fakeConversationStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[sessionID], nil
}
func (f *fakeConversationStore) AppendMessage(ctx context.Context, sessionID string, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[sessionID] = append(f.messages[sessionID], message)
	return nil
}

func TestGetLoadsOnCacheMiss(t *testing.T) {
	persistent := newFakeConversationStore()
	now := time.Now()
	persistent.sessions["sess1"] = models.NewSession("sess1", "user1", now)

	store := New(newFakeCache(), persistent)
	convCtx, err := store.Get(context.Background(), "sess1")
	require.NoError(t, err)
	assert.Equal(t, "sess1", convCtx.SessionID)
}

func TestGetServesFromCacheOnHit(t *testing.T) {
	persistent := newFakeConversationStore()
	now := time.Now()
	persistent.sessions["sess1"] = models.NewSession("sess1", "user1", now)

	store := New(newFakeCache(), persistent)
	_, err := store.Get(context.Background(), "sess1")
	require.NoError(t, err)
	require.Equal(t, 1, persistent.loads)

	_, err = store.Get(context.Background(), "sess1")
	require.NoError(t, err)
	assert.Equal(t, 1, persistent.loads, "second Get should be served from cache, not reload")
}

func TestGetCoalescesConcurrentLoads(t *testing.T) {
	persistent := newFakeConversationStore()
	now := time.Now()
	persistent.sessions["sess1"] = models.NewSession("sess1", "user1", now)

	store := New(newFakeCache(), persistent)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Get(context.Background(), "sess1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, persistent.loads, 2, "concurrent misses for the same session should share one in-flight load")
}

func TestAppendMessageUpdatesCacheAndStore(t *testing.T) {
	persistent := newFakeConversationStore()
	now := time.Now()
	persistent.sessions["sess1"] = models.NewSession("sess1", "user1", now)

	store := New(newFakeCache(), persistent)
	convCtx, err := store.Get(context.Background(), "sess1")
	require.NoError(t, err)

	msg := models.NewMessage("msg1", "sess1", models.RoleUser, "hello", now)
	require.NoError(t, store.AppendMessage(context.Background(), "sess1", convCtx, msg))

	reloaded, err := store.Get(context.Background(), "sess1")
	require.NoError(t, err)
	require.Len(t, reloaded.History, 1)
	assert.Equal(t, "msg1", reloaded.History[0].ID)
}
