package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("start consultation: %w", Conflict("visit is no longer waiting"))

	assert.True(t, IsConflict(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, ErrConflict, CodeOf(err))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))
	assert.False(t, IsConflict(nil))
}

func TestStatusCode(t *testing.T) {
	cases := map[*AppError]int{
		Validation("diagnosis is required", nil): http.StatusUnprocessableEntity,
		Conflict("already paid"):                 http.StatusConflict,
		Forbidden("front desk only"):             http.StatusForbidden,
		NotFound("visit", nil):                   http.StatusNotFound,
		Cipher(fmt.Errorf("no key")):             http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, err.StatusCode(), err.Error())
	}
}
