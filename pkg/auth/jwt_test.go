package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
)

func TestTokenRoundTrip(t *testing.T) {
	svc, err := NewJWTService("test-secret", "opd-api")
	require.NoError(t, err)

	token, err := svc.GenerateToken(model.Actor{UserID: 7, Role: model.RoleCashier}, time.Hour)
	require.NoError(t, err)

	actor, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), actor.UserID)
	assert.Equal(t, model.RoleCashier, actor.Role)
}

func TestValidateTokenRejects(t *testing.T) {
	svc, err := NewJWTService("test-secret", "opd-api")
	require.NoError(t, err)
	other, err := NewJWTService("other-secret", "opd-api")
	require.NoError(t, err)
	foreign, err := NewJWTService("test-secret", "someone-else")
	require.NoError(t, err)

	expired, err := svc.GenerateToken(model.Actor{UserID: 1, Role: model.RoleDoctor}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := other.GenerateToken(model.Actor{UserID: 1, Role: model.RoleDoctor}, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := foreign.GenerateToken(model.Actor{UserID: 1, Role: model.RoleDoctor}, time.Hour)
	require.NoError(t, err)
	badRole, err := svc.GenerateToken(model.Actor{UserID: 1, Role: "janitor"}, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"unknown role": badRole,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.True(t, errors.Is(err, ErrInvalidToken))
		})
	}

	_, err = NewJWTService("", "opd-api")
	assert.Error(t, err)
}
