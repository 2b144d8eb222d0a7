package cron

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderahq/commerce-backend/pkg/logger"
)

type fakeLock struct {
	acquired bool
	releases int
}

func (l *fakeLock) Acquire(_ context.Context) (bool, error) {
	return l.acquired, nil
}

func (l *fakeLock) Release(_ context.Context) error {
	l.releases++
	return nil
}

type recordingJob struct {
	name string
	runs int
	err  error
}

func (j *recordingJob) Name() string { return j.name }

func (j *recordingJob) Run(_ context.Context) error {
	j.runs++
	return j.err
}

func newCronService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()

	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleExecutesJobsInOrder(t *testing.T) {
	lock := &fakeLock{acquired: true}
	first := &recordingJob{name: "first"}
	second := &recordingJob{name: "second", err: fmt.Errorf("boom")}
	third := &recordingJob{name: "third"}

	svc := newCronService(t, lock, first, second, third)
	require.NoError(t, svc.runCycle(context.Background()))

	// a failing job does not stop the rest of the cycle
	assert.Equal(t, 1, first.runs)
	assert.Equal(t, 1, second.runs)
	assert.Equal(t, 1, third.runs)
	assert.Equal(t, 1, lock.releases)
}

func TestRunCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	lock := &fakeLock{acquired: false}
	job := &recordingJob{name: "noop"}

	svc := newCronService(t, lock, job)
	require.NoError(t, svc.runCycle(context.Background()))

	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases)
}
