package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	saves int
	last  map[int64]Record
	err   error
}

func (s *fakeStore) Save(sessions map[int64]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = sessions
	return s.err
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestManager_AtMostOneSessionPerUser(t *testing.T) {
	m := NewManager(&fakeStore{})

	m.Put(100, Record{State: StateOpen})
	m.Put(100, Record{State: StateLocked})

	assert.Equal(t, 1, m.Len())
	rec, ok := m.Current(100)
	require.True(t, ok)
	assert.Equal(t, StateLocked, rec.State)
}

func TestManager_PutPersistsEveryMutation(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store)

	m.Put(1, Record{State: StateOpen})
	m.Put(2, Record{State: StateOpen})
	m.Delete(1)

	assert.Equal(t, 3, store.saveCount())
	assert.Len(t, store.last, 1)
}

func TestManager_CurrentExpiresResolvedPastReset(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store)
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Put(7, Record{State: StateResolved, ResetAt: now.Add(10 * time.Minute)})

	// до reset_at сессия жива
	rec, ok := m.Current(7)
	require.True(t, ok)
	assert.Equal(t, StateResolved, rec.State)

	// после reset_at — удаляется лениво, со сбросом на диск
	now = now.Add(11 * time.Minute)
	_, ok = m.Current(7)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 2, store.saveCount())
}

func TestManager_CurrentExpiresStalePrompt(t *testing.T) {
	m := NewManager(&fakeStore{})
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Put(5, Record{
		State:       StateOpen,
		PendingText: "помогите",
		PromptUntil: now.Add(10 * time.Minute),
	})

	now = now.Add(11 * time.Minute)
	_, ok := m.Current(5)
	assert.False(t, ok, "протухший prompt должен молча удалить сессию")
}

func TestManager_ReapBatchesPersist(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store)
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Put(1, Record{State: StateResolved, ResetAt: now.Add(time.Minute)})
	m.Put(2, Record{State: StateResolved, ResetAt: now.Add(2 * time.Minute)})
	m.Put(3, Record{State: StateOpen, PendingText: "hi", PromptUntil: now.Add(time.Minute)})
	m.Put(4, Record{State: StateLocked})
	savesBefore := store.saveCount()

	now = now.Add(time.Hour)
	removed := m.Reap()

	assert.Equal(t, 3, removed)
	assert.Equal(t, 1, m.Len(), "locked без дедлайнов не трогаем")
	assert.Equal(t, savesBefore+1, store.saveCount(), "один Save на весь проход")

	// повторный проход без активности — no-op и без лишних записей
	assert.Equal(t, 0, m.Reap())
	assert.Equal(t, savesBefore+1, store.saveCount())
}

func TestManager_DeleteEvictsLock(t *testing.T) {
	m := NewManager(&fakeStore{})
	m.Put(9, Record{State: StateOpen})
	m.WithLock(9, func() {})
	require.Contains(t, m.locks, int64(9))

	m.Delete(9)
	assert.NotContains(t, m.locks, int64(9))
}

func TestManager_WithLockSerializesPerUser(t *testing.T) {
	m := NewManager(&fakeStore{})

	const workers = 20
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			m.WithLock(42, func() {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestManager_PersistFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{err: assert.AnError}
	m := NewManager(store)

	m.Put(1, Record{State: StateOpen})

	// память остаётся источником правды
	rec, ok := m.Current(1)
	require.True(t, ok)
	assert.Equal(t, StateOpen, rec.State)
}
