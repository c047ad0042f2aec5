package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
)

type sample struct {
	Diagnosis string `json:"diagnosis" validate:"required"`
	Decision  string `json:"admission_decision" validate:"required,oneof=none recommend"`
	Fee       int64  `json:"fee_amount" validate:"gte=0"`
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	v := New()

	err := v.Validate(sample{Decision: "maybe", Fee: -1})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "diagnosis is required")
	assert.Contains(t, err.Error(), "admission_decision must be one of [none recommend]")
	assert.Contains(t, err.Error(), "fee_amount must be at least 0")
}

func TestValidatePasses(t *testing.T) {
	assert.NoError(t, New().Validate(sample{Diagnosis: "flu", Decision: "none"}))
}
