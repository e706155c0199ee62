package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/store/sqlite"
)

func TestUpdatePassword(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = s.Users().Create(ctx, &model.User{UserID: "u1", Email: "u1@example.test", PasswordHash: string(hash)})
	require.NoError(t, err)

	svc := NewUserService(s)

	require.ErrorIs(t, svc.UpdatePassword(ctx, "u1", "old-password", "short"), model.ErrValidation)
	require.ErrorIs(t, svc.UpdatePassword(ctx, "u1", "wrong-password", "new-password"), model.ErrForbidden)
	require.NoError(t, svc.UpdatePassword(ctx, "u1", "old-password", "new-password"))

	u, err := s.Users().Get(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("new-password")))
}

func TestUpdateProfile(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Users().Create(ctx, &model.User{UserID: "u1", Email: "u1@example.test", PasswordHash: "x"})
	require.NoError(t, err)

	svc := NewUserService(s)
	name := "Robinson"
	u, err := svc.UpdateProfile(ctx, "u1", &name, "Europe/Berlin")
	require.NoError(t, err)
	require.NotNil(t, u.DisplayName)
	require.Equal(t, "Robinson", *u.DisplayName)
	require.Equal(t, "Europe/Berlin", u.TimeZone)
}
