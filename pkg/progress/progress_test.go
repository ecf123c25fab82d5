package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamDeliversInOrderThenResult(t *testing.T) {
	s := Start(context.Background(), func(_ context.Context, report Reporter[int]) (string, error) {
		for i := 1; i <= 3; i++ {
			report(i)
		}
		return "done", nil
	})

	var got []int
	var final Update[int, string]
	for u := range s.Updates() {
		if u.Done() {
			final = u
			continue
		}
		got = append(got, u.Progress)
	}
	require.Equal(t, []int{1, 2, 3}, got)
	require.True(t, final.Completed)
	require.Equal(t, "done", final.Result)
}

func TestWaitReturnsErrorAndIsRepeatable(t *testing.T) {
	boom := errors.New("boom")
	s := Start(context.Background(), func(_ context.Context, report Reporter[int]) (int, error) {
		report(1)
		return 0, boom
	})
	var seen []int
	_, err := s.Wait(func(p int) { seen = append(seen, p) })
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1}, seen)

	_, err = s.Wait(nil)
	require.ErrorIs(t, err, boom)
}

func TestCanceledConsumerReleasesProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	s := Start(ctx, func(ctx context.Context, report Reporter[int]) (int, error) {
		defer close(finished)
		for i := 0; i < 100; i++ {
			report(i)
		}
		return 42, nil
	})
	<-s.Updates()
	cancel()
	<-finished
	_, err := s.Wait(nil)
	require.Error(t, err)
}

func TestFailed(t *testing.T) {
	_, err := Failed[int, int](errors.New("nope")).Wait(nil)
	require.EqualError(t, err, "nope")
}
