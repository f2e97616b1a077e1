package quiz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/tests"
)

func TestSweeper_Run(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, "late@test.cd")
	f.now = f.now.Add(31 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		quiz.NewSweeper(f.svc, 10*time.Millisecond, testutil.NewLogger(core.NewTestConfig())).Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		got, err := f.svc.GetAttempt(context.Background(), a.ID)
		require.NoError(t, err)
		return got.Status == quiz.StatusAutoSubmitted
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
