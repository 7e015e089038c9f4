package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  LeaseParams
		wantErr bool
	}{
		{"defaults", DefaultLeaseParams(), false},
		{"zero initial", LeaseParams{RenewalTTL: time.Second}, true},
		{"negative renewal", LeaseParams{InitialTTL: time.Second, RenewalTTL: -time.Second}, true},
		{"interval too long", LeaseParams{InitialTTL: time.Second, RenewalTTL: 5 * time.Second, RenewInterval: time.Second}, true},
		{"ttls below renewal resolution", LeaseParams{InitialTTL: 2 * time.Nanosecond, RenewalTTL: 2 * time.Nanosecond}, true},
		{"explicit interval", LeaseParams{InitialTTL: 3 * time.Second, RenewalTTL: 5 * time.Second, RenewInterval: time.Second}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLeaseTTL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLeaseParamsInterval(t *testing.T) {
	p := LeaseParams{InitialTTL: 9 * time.Second, RenewalTTL: 30 * time.Second}
	assert.Equal(t, 3*time.Second, p.Interval(), "defaults to a third of the shorter ttl")

	p.RenewInterval = 2 * time.Second
	assert.Equal(t, 2*time.Second, p.Interval())
}

func TestLockErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("wrapped: %w", Unavailable("acquire", "orders", cause))

	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRenewalLost)

	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "orders", lockErr.LockName)
	assert.Contains(t, err.Error(), "connection refused")

	lost := NewLockError(ErrRenewalLost, "extend", "orders", nil)
	assert.True(t, IsLost(lost))
	assert.Equal(t, `extend "orders": lock lost during renewal`, lost.Error())
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type":99,"payload":{}}`))
	assert.Error(t, err)

	_, err = DecodeCommand([]byte(`{"type":5,"payload":"not-an-object"}`))
	assert.Error(t, err)
}

func TestValidateLockName(t *testing.T) {
	for _, name := range []string{"orders", "orders-2024", "a.b", "a..b"} {
		assert.NoError(t, ValidateLockName(name), name)
	}
	for _, name := range []string{"", ".", "..", "a/b", "../etc", "/orders", "orders/"} {
		assert.ErrorIs(t, ValidateLockName(name), ErrInvalidLockName, name)
	}
}
