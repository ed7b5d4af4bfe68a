package fees

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// slowDues blocks every dues scan until release is closed.
type slowDues struct {
	ServicePort
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	ctxErrs []error
}

func (s *slowDues) Outstanding(ctx context.Context, currentYearID int64) ([]StudentDues, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	s.mu.Lock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	s.mu.Unlock()
	return []StudentDues{{OutstandingDue: OutstandingDue{StudentID: 7, TotalDues: d(4000)}}}, nil
}

func TestLoadDuesSurvivesCancelledLeader(t *testing.T) {
	svc := &slowDues{entered: make(chan struct{}), release: make(chan struct{})}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := h.loadDues(leaderCtx, "3")
		leaderErr <- err
	}()
	<-svc.entered
	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	type result struct {
		rows []StudentDues
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		rows, err := h.loadDues(context.Background(), "3")
		follower <- result{rows, err}
	}()
	close(svc.release)

	res := <-follower
	require.NoError(t, res.err)
	require.Len(t, res.rows, 1)
	require.Equal(t, int64(7), res.rows[0].StudentID)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.NotEmpty(t, svc.ctxErrs)
	require.NoError(t, svc.ctxErrs[0], "scan must not inherit the leader's cancellation")
}
