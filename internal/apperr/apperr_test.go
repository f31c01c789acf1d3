package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("submit trade: %w", Newf(SenderMismatch, "sender %s", "0xcc"))

	assert.True(t, errors.Is(err, ErrSenderMismatch))
	assert.False(t, errors.Is(err, ErrStaleTransaction))
	assert.Equal(t, SenderMismatch, KindOf(err))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(OracleUnavailable, "get transaction", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrOracleUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, ClassInternal, KindOf(errors.New("boom")).Class())
}

func TestKind_ClassAndStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		class  Class
		status int
	}{
		{InvalidSignature, ClassAuth, http.StatusUnauthorized},
		{SessionExpired, ClassAuth, http.StatusUnauthorized},
		{TransactionNotFound, ClassVerification, http.StatusNotFound},
		{StaleTransaction, ClassVerification, http.StatusBadRequest},
		{OracleUnavailable, ClassVerification, http.StatusServiceUnavailable},
		{DuplicateTransaction, ClassVerification, http.StatusConflict},
		{Forbidden, ClassDomain, http.StatusForbidden},
		{TokenNotFound, ClassDomain, http.StatusNotFound},
		{RateLimited, ClassDomain, http.StatusTooManyRequests},
		{WriteFailed, ClassStore, http.StatusInternalServerError},
		{Internal, ClassInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.class, tt.kind.Class())
			assert.Equal(t, tt.status, tt.kind.HTTPStatus())
		})
	}
}
