package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/pkg/jobs"
)

type sweeperStub struct {
	proposals int
	logs      int64
	err       error
	calls     int
}

func (s *sweeperStub) Sweep(ctx context.Context) (int, int64, error) {
	s.calls++
	return s.proposals, s.logs, s.err
}

type purgerStub struct{ n int }

func (p purgerStub) Purge() int { return p.n }

func TestHousekeeperHandle(t *testing.T) {
	sweeper := &sweeperStub{proposals: 2, logs: 1}
	metrics := NewMetricsService()
	h := NewHousekeeper(sweeper, purgerStub{n: 3}, metrics, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), jobs.Job{ID: "job-1", Type: HousekeepingJobType}))
	assert.Equal(t, 1, sweeper.calls)
}

func TestHousekeeperPropagatesSweepError(t *testing.T) {
	sweeper := &sweeperStub{err: errors.New("db down")}
	h := NewHousekeeper(sweeper, nil, nil, nil)

	err := h.Handle(context.Background(), jobs.Job{ID: "job-2", Type: HousekeepingJobType})
	assert.EqualError(t, err, "db down")
}

func TestHousekeeperExpiresRealState(t *testing.T) {
	wizard, f := newWizardFixture(t)
	_, err := wizard.CreateSession(context.Background(), studentActor, "group-1")
	require.NoError(t, err)
	_, err = f.svc.ProposeReschedule(context.Background(), studentActor, "group-1",
		[]models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}, nil, "")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	h := NewHousekeeper(f.svc, wizard, nil, zap.NewNop())
	require.NoError(t, h.Handle(context.Background(), jobs.Job{ID: "job-3", Type: HousekeepingJobType}))
	assert.Equal(t, 0, f.svc.proposals.Len())
	assert.Equal(t, 0, wizard.sessions.Len())
}
