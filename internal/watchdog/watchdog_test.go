package watchdog

import (
	"context"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_RequiresCommand(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestSupervisor_RestartsOnInterval(t *testing.T) {
	var (
		mu   sync.Mutex
		pids []int
	)

	s, err := New([]string{"sleep", "60"},
		WithInterval(200*time.Millisecond),
		WithGrace(100*time.Millisecond),
		WithOutput(io.Discard, io.Discard),
		WithOnStart(func(pid int) {
			mu.Lock()
			defer mu.Unlock()

			// Every previously started child must be fully stopped before
			// its successor starts.
			for _, prev := range pids {
				err := syscall.Kill(prev, 0)
				require.Error(t, err, "previous child %d still running", prev)
			}
			pids = append(pids, pid)
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()

	err = s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(pids), 2)

	// The last child is reaped on shutdown too.
	err = syscall.Kill(pids[len(pids)-1], 0)
	require.Error(t, err)
}

func TestSupervisor_SurvivesEarlyExit(t *testing.T) {
	started := 0

	s, err := New([]string{"true"},
		WithInterval(100*time.Millisecond),
		WithOutput(io.Discard, io.Discard),
		WithOnStart(func(int) { started++ }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()

	err = s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The child exits immediately every time; the supervisor keeps
	// restarting on the interval instead of giving up.
	require.GreaterOrEqual(t, started, 2)
}

func TestSupervisor_SurvivesStartFailure(t *testing.T) {
	s, err := New([]string{"/nonexistent/keymint-server"},
		WithInterval(50*time.Millisecond),
		WithOutput(io.Discard, io.Discard),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// The loop must keep retrying rather than propagate the start error.
	err = s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
