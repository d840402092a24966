package kerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "direct kinded error",
			err:  New(KindInsufficientFunds, "broke"),
			want: KindInsufficientFunds,
		},
		{
			name: "wrapped kinded error",
			err:  fmt.Errorf("renewing subscription: %w", New(KindInsufficientFunds, "broke")),
			want: KindInsufficientFunds,
		},
		{
			name: "plain error falls back to store kind",
			err:  errors.New("connection reset"),
			want: KindStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsKind(t *testing.T) {
	err := Wrap(KindWalletNotFound, "no such wallet", errors.New("no rows"))
	assert.True(t, IsKind(err, KindWalletNotFound))
	assert.False(t, IsKind(err, KindNameNotFound))
	assert.False(t, IsKind(errors.New("plain"), KindWalletNotFound))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsKind(wrapped, KindWalletNotFound))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrMissingBearer, http.StatusUnauthorized},
		{ErrInvalidSession, http.StatusUnauthorized},
		{ErrUnauthorized, http.StatusUnauthorized},
		{New(KindInsufficientFunds, "broke"), http.StatusBadRequest},
		{Param("price", "must be positive"), http.StatusBadRequest},
		{New(KindWalletNotFound, "nope"), http.StatusNotFound},
		{New(KindContractNotFound, "nope"), http.StatusNotFound},
		{New(KindNotNameOwner, "nope"), http.StatusForbidden},
		{ErrTokenNotFound, http.StatusNotFound},
		{errors.New("database exploded"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "err=%v", tt.err)
	}
}

func TestParamCarriesField(t *testing.T) {
	err := Param("cron_expr", "got bad cron expression")
	assert.Equal(t, "cron_expr", err.Field)
	assert.Equal(t, KindInvalidParameter, err.Kind)
	assert.Contains(t, err.Error(), "invalid_parameter")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindStore, "query failed", cause)
	assert.ErrorIs(t, err, cause)
}
