package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecard/internal/config"
	"ecard/internal/service"
)

type maintainerStub struct {
	reconcileLimit int
	expireLimit    int
	hadDeadline    bool
	err            error
}

func (m *maintainerStub) Reconcile(ctx context.Context, limit int) (*service.ReconcileSummary, error) {
	m.reconcileLimit = limit
	_, m.hadDeadline = ctx.Deadline()
	if m.err != nil {
		return nil, m.err
	}
	return &service.ReconcileSummary{Issued: 1}, nil
}

func (m *maintainerStub) ExpireDue(ctx context.Context, limit int) (*service.ReconcileSummary, error) {
	m.expireLimit = limit
	_, m.hadDeadline = ctx.Deadline()
	if m.err != nil {
		return nil, m.err
	}
	return &service.ReconcileSummary{Expired: 2}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobs_PassBatchSizeAndDeadline(t *testing.T) {
	stub := &maintainerStub{}
	jobs := NewJobs(stub, 200, time.Minute, discardLogger())

	jobs.ExpireCards()
	jobs.Reconcile()

	assert.Equal(t, 200, stub.expireLimit)
	assert.Equal(t, 200, stub.reconcileLimit)
	assert.True(t, stub.hadDeadline)
}

func TestJobs_ErrorsDoNotPanic(t *testing.T) {
	stub := &maintainerStub{err: errors.New("store down")}
	jobs := NewJobs(stub, 10, time.Second, discardLogger())

	assert.NotPanics(t, jobs.ExpireCards)
	assert.NotPanics(t, jobs.Reconcile)
}

func TestScheduler_StartRejectsBadSchedule(t *testing.T) {
	jobs := NewJobs(&maintainerStub{}, 10, time.Second, discardLogger())
	scheduler := NewScheduler(jobs, discardLogger(), config.SchedulerConfig{
		ExpirySchedule:    "not a schedule",
		ReconcileSchedule: "*/5 * * * *",
	})

	err := scheduler.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expiry")
}

func TestScheduler_StartAndStop(t *testing.T) {
	jobs := NewJobs(&maintainerStub{}, 10, time.Second, discardLogger())
	scheduler := NewScheduler(jobs, discardLogger(), config.SchedulerConfig{
		ExpirySchedule:    "*/15 * * * *",
		ReconcileSchedule: "*/5 * * * *",
	})

	require.NoError(t, scheduler.Start())

	select {
	case <-scheduler.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
