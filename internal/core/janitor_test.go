package core

import (
	"context"
	"errors"
	"testing"
)

type fakeCleaner struct {
	removed  int
	err      error
	runs     int
	statRuns int
}

func (c *fakeCleaner) CleanupOrphanedItems(ctx context.Context) (int, error) {
	c.runs++
	return c.removed, c.err
}

func (c *fakeCleaner) Stats(ctx context.Context) (*QueueStats, error) {
	c.statRuns++
	return &QueueStats{}, nil
}

func TestJanitor_RunOnce(t *testing.T) {
	c := &fakeCleaner{removed: 3}
	j := NewJanitor(c, 0, discardLogger())

	if got := j.RunOnce(context.Background()); got != 3 {
		t.Errorf("RunOnce() = %d, want 3", got)
	}
	if c.statRuns != 1 {
		t.Errorf("stats refreshed %d times, want 1", c.statRuns)
	}
}

func TestJanitor_RunOnceError(t *testing.T) {
	c := &fakeCleaner{err: errors.New("locked")}
	j := NewJanitor(c, 0, discardLogger())

	if got := j.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0", got)
	}
	if c.statRuns != 0 {
		t.Error("stats refreshed after failed cleanup")
	}
}

func TestJanitor_DisabledStartStop(t *testing.T) {
	c := &fakeCleaner{}
	j := NewJanitor(c, 0, discardLogger())
	j.Start()
	j.Stop()
	j.Stop()
	if c.runs != 0 {
		t.Errorf("runs = %d, want 0 with cleanup disabled", c.runs)
	}
}

func TestJanitor_AgainstQueue(t *testing.T) {
	m, conn, _ := newTestQueue(t)
	a := createJob(t, conn, JobStatusPending, PaymentPaid)
	mustEnqueue(t, m, a.ID)
	if err := m.FailJob(context.Background(), a.ID, "x"); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	j := NewJanitor(m, 0, discardLogger())
	if got := j.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d on a clean queue, want 0", got)
	}
}
