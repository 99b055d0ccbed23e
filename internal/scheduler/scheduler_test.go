package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/apotheca/internal/clock"
	creditdomain "github.com/smallbiznis/apotheca/internal/credit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sweepRecorder struct {
	creditdomain.Service

	asOf  []time.Time
	swept int64
	err   error
}

func (s *sweepRecorder) SweepOverdue(_ context.Context, asOf time.Time) (int64, error) {
	s.asOf = append(s.asOf, asOf)
	return s.swept, s.err
}

func TestRunOnceUsesClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(start)
	recorder := &sweepRecorder{swept: 3}

	sched := New(Params{
		Log:       zap.NewNop(),
		CreditSvc: recorder,
		Clock:     fake,
		Config:    Config{RunInterval: time.Minute},
	})

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Len(t, recorder.asOf, 1)
	assert.Equal(t, start, recorder.asOf[0])

	fake.Advance(48 * time.Hour)
	require.NoError(t, sched.RunOnce(context.Background()))
	require.Len(t, recorder.asOf, 2)
	assert.Equal(t, start.Add(48*time.Hour), recorder.asOf[1])
}

func TestRunOncePropagatesError(t *testing.T) {
	recorder := &sweepRecorder{err: errors.New("db down")}

	sched := New(Params{
		Log:       zap.NewNop(),
		CreditSvc: recorder,
		Clock:     clock.NewFakeClock(time.Now()),
		Config:    Config{},
	})

	assert.Error(t, sched.RunOnce(context.Background()))
}

func TestNewDefaultsInterval(t *testing.T) {
	sched := New(Params{
		Log:       zap.NewNop(),
		CreditSvc: &sweepRecorder{},
		Clock:     clock.NewFakeClock(time.Now()),
		Config:    Config{},
	})
	assert.Equal(t, time.Hour, sched.cfg.RunInterval)
}
