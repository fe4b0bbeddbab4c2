package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var errRetriable = errors.New("retriable")

func isRetriable(e error) bool {
	return errors.Is(e, errRetriable)
}

func TestWithExponentialBackoff(t *testing.T) {
	retryInitialSleepAmount = 1 * time.Millisecond
	retryMaxSleepAmount = 2 * time.Millisecond
	maxAttempts = 3

	cnt := 0

	cases := []struct {
		desc      string
		f         func() (int, error)
		want      int
		wantError bool
	}{
		{"success-zero", func() (int, error) { return 0, nil }, 0, false},
		{"success", func() (int, error) { return 3, nil }, 3, false},
		{"retriable-succeeds", func() (int, error) {
			cnt++
			if cnt < 2 {
				return 0, errRetriable
			}

			return 4, nil
		}, 4, false},
		{"retriable-never-succeeds", func() (int, error) { return 0, errRetriable }, 0, true},
		{"non-retriable-fails-fast", func() (int, error) { return 0, errors.New("fatal") }, 0, true},
	}

	ctx := context.Background()

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := WithExponentialBackoff(ctx, tc.desc, tc.f, isRetriable)

			if tc.wantError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			require.Equal(t, tc.want, got)
		})
	}
}

func TestWithExponentialBackoffNoValueContextCancel(t *testing.T) {
	retryInitialSleepAmount = 10 * time.Millisecond
	maxAttempts = 5

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithExponentialBackoffNoValue(canceled, "canceled", func() error {
		return errRetriable
	}, isRetriable)

	require.ErrorIs(t, err, context.Canceled)
}
