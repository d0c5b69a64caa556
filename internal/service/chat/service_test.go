package chat_test

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/voice-twin/backend/internal/model/chat"
	chat "github.com/zhouzirui/voice-twin/backend/internal/service/chat"
)

func TestGetCreatesEmptySession(t *testing.T) {
	svc := chat.NewService(chat.Options{})

	session := svc.Get("never-seen")

	assert.Equal(t, "never-seen", session.ID)
	assert.Empty(t, session.History)
	assert.Equal(t, model.Profile{}, session.Profile)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, 1, svc.Len())
}

func TestUpdateProfileNeverClearsByOmission(t *testing.T) {
	svc := chat.NewService(chat.Options{})

	svc.UpdateProfile("s1", "Alice", "")
	svc.UpdateProfile("s1", "", "a@x.com")

	assert.Equal(t, model.Profile{Name: "Alice", Email: "a@x.com"}, svc.Get("s1").Profile)
}

func TestClearResetsSession(t *testing.T) {
	svc := chat.NewService(chat.Options{})
	svc.UpdateProfile("s1", "Alice", "a@x.com")
	svc.AppendTurn("s1", "hi", "hello")
	before := svc.Get("s1")

	svc.Clear("s1")
	after := svc.Get("s1")

	assert.Empty(t, after.History)
	assert.Equal(t, model.Profile{}, after.Profile)
	assert.NotEqual(t, before.Token, after.Token)

	svc.Clear("unknown")
	svc.Clear("unknown")
}

func TestAppendTurnOrderAndGrowth(t *testing.T) {
	svc := chat.NewService(chat.Options{})

	svc.AppendTurn("s1", "hi", "hello")
	history := svc.Get("s1").History
	require.Len(t, history, 2)
	assert.Equal(t, model.Turn{Role: model.RoleUser, Text: "hi"}, history[0])
	assert.Equal(t, model.Turn{Role: model.RoleModel, Text: "hello"}, history[1])

	svc.AppendTurn("s1", "again", "sure")
	assert.Len(t, svc.Get("s1").History, 4)
}

func TestWindowReturnsLatestSixOfTwenty(t *testing.T) {
	svc := chat.NewService(chat.Options{})
	for i := 0; i < 10; i++ {
		svc.AppendTurn("s1", fmt.Sprintf("u%d", i), fmt.Sprintf("m%d", i))
	}

	window := svc.Window("s1", model.ContextWindow)

	require.Len(t, window, 6)
	assert.Equal(t, "u7", window[0].Text)
	assert.Equal(t, "m9", window[5].Text)
	assert.Len(t, svc.Get("s1").History, 20, "full history is retained")
}

func TestGetReturnsSnapshot(t *testing.T) {
	svc := chat.NewService(chat.Options{})
	svc.AppendTurn("s1", "hi", "hello")

	snap := svc.Get("s1")
	snap.History[0].Text = "tampered"

	assert.Equal(t, "hi", svc.Get("s1").History[0].Text)
}

func TestMaxEntriesEvictsLeastRecent(t *testing.T) {
	var (
		mu      sync.Mutex
		evicted []string
	)
	svc := chat.NewService(chat.Options{MaxEntries: 2, OnEvict: func(id string) {
		mu.Lock()
		evicted = append(evicted, id)
		mu.Unlock()
	}})

	svc.AppendTurn("a", "1", "1")
	svc.AppendTurn("b", "1", "1")
	svc.Get("a")
	svc.AppendTurn("c", "1", "1")

	mu.Lock()
	assert.Equal(t, []string{"b"}, evicted)
	mu.Unlock()

	assert.Len(t, svc.Get("a").History, 2)
	assert.Empty(t, svc.Get("b").History, "evicted id behaves like a fresh one")
}

func TestClearDoesNotCountAsEviction(t *testing.T) {
	calls := 0
	svc := chat.NewService(chat.Options{OnEvict: func(string) { calls++ }})
	svc.Get("s1")
	svc.Clear("s1")
	assert.Zero(t, calls)
}

func TestIdleSessionsExpire(t *testing.T) {
	svc := chat.NewService(chat.Options{IdleTTL: 50 * time.Millisecond})
	svc.AppendTurn("s1", "hi", "hello")

	time.Sleep(120 * time.Millisecond)

	assert.Empty(t, svc.Get("s1").History)
}

func TestLockSerializesSameSession(t *testing.T) {
	svc := chat.NewService(chat.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := svc.Lock("s1")
			defer unlock()
			svc.AppendTurn("s1", fmt.Sprintf("u%d", i), fmt.Sprintf("m%d", i))
		}(i)
	}
	wg.Wait()

	history := svc.Get("s1").History
	require.Len(t, history, 40)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, model.RoleUser, history[i].Role)
		assert.Equal(t, model.RoleModel, history[i+1].Role)
		assert.Equal(t, history[i].Text[1:], history[i+1].Text[1:], "pair %d interleaved", i/2)
	}
}

func TestLockUnlockIsIdempotent(t *testing.T) {
	svc := chat.NewService(chat.Options{})
	unlock := svc.Lock("s1")
	unlock()
	unlock()

	done := make(chan struct{})
	go func() {
		svc.Lock("s1")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock was not released")
	}
}

func TestPeekDoesNotCreate(t *testing.T) {
	svc := chat.NewService(chat.Options{})

	_, ok := svc.Peek("s1")
	assert.False(t, ok)
	assert.Zero(t, svc.Len())

	svc.AppendTurn("s1", "hi", "hello")
	session, ok := svc.Peek("s1")
	require.True(t, ok)
	assert.Len(t, session.History, 2)
}

func TestZeroIdleTTLStartsNoBackgroundWork(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		chat.NewService(chat.Options{MaxEntries: 4})
	}
	assert.Equal(t, before, runtime.NumGoroutine())
}
