package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func TestPolicyDo(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt succeeds", policy: Once(time.Millisecond), failures: 0, wantCalls: 1},
		{name: "retry once then succeed", policy: Once(time.Millisecond), failures: 1, wantCalls: 2},
		{name: "exhausted", policy: Once(time.Millisecond), failures: 5, wantCalls: 2, wantErr: true},
		{name: "zero attempts means one call", policy: Policy{}, failures: 5, wantCalls: 1, wantErr: true},
		{
			name:      "non retryable stops early",
			policy:    Policy{MaxAttempts: 3, Backoff: time.Millisecond, Retryable: func(error) bool { return false }},
			failures:  5,
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := tt.policy.Do(context.Background(), func(ctx context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= tt.failures {
					return errTransient
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, errTransient)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPolicyDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 3, Backoff: time.Hour}
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
}
