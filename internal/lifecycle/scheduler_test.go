package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

func TestNewScheduler_Validation(t *testing.T) {
	m := NewManager(newTestStore(t), vectorindex.NewMemoryIndex(), zap.NewNop())

	_, err := NewScheduler(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewScheduler(m, nil)
	assert.Error(t, err)

	s, err := NewScheduler(m, zap.NewNop(), WithInterval(time.Minute))
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	m := NewManager(newTestStore(t), vectorindex.NewMemoryIndex(), zap.NewNop())
	s, err := NewScheduler(m, zap.NewNop(), WithInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start must not spawn a second loop")

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop(), "stop is idempotent")

	// A stopped scheduler can be restarted.
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestScheduler_RunsEagerCycleOnStart(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, vectorindex.NewMemoryIndex(), zap.NewNop())
	s, err := NewScheduler(m, zap.NewNop(), WithInterval(time.Hour))
	require.NoError(t, err)

	seed(t, store, "ready", memory.TierWorking, 0.8, 3, time.Hour)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		rec, err := store.Get(context.Background(), "u1", "ready")
		return err == nil && rec.Tier == memory.TierHistory
	}, 2*time.Second, 10*time.Millisecond, "startup cycle should promote without waiting for the ticker")
}
