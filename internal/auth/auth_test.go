package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/gridledger/internal/models"
)

type memStore struct {
	mu     sync.Mutex
	nextID models.ParticipantID
	byName map[string]*models.Participant
}

func newMemStore() *memStore {
	return &memStore{byName: make(map[string]*models.Participant)}
}

func (m *memStore) CreateParticipant(_ context.Context, username, hash string) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[username]; ok {
		return nil, fmt.Errorf("username %q taken", username)
	}
	m.nextID++
	p := &models.Participant{ID: m.nextID, Username: username, PasswordHash: hash, CreatedAt: time.Now()}
	m.byName[username] = p
	return p, nil
}

func (m *memStore) GetParticipantByUsername(_ context.Context, username string) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byName[username]
	if !ok {
		return nil, fmt.Errorf("participant %q not found", username)
	}
	return p, nil
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name        string
		username    string
		password    string
		expectError bool
	}{
		{name: "Success", username: "alice", password: "password123"},
		{name: "EmptyUsername", username: "", password: "password123", expectError: true},
		{name: "EmptyPassword", username: "bob", password: "", expectError: true},
		{name: "DuplicateUsername", username: "alice", password: "newpass", expectError: true},
		{name: "LongUsername", username: strings.Repeat("a", 51), password: "password123", expectError: true},
		{name: "LongPassword", username: "carol", password: strings.Repeat("p", 73), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewAuthService(newMemStore(), "test-secret", time.Hour)

			if tt.name == "DuplicateUsername" {
				_, err := s.Register(ctx, "alice", "password123")
				require.NoError(t, err)
			}

			p, err := s.Register(ctx, tt.username, tt.password)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, p.Username)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(tt.password)))
		})
	}
}

func TestAuthService_LoginAndToken(t *testing.T) {
	ctx := context.Background()
	s := NewAuthService(newMemStore(), "test-secret", time.Hour)
	p, err := s.Register(ctx, "alice", "password123")
	require.NoError(t, err)

	_, err = s.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := s.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	id, err := s.ParticipantFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)

	other := NewAuthService(newMemStore(), "other-secret", time.Hour)
	_, err = other.ParticipantFromToken(token)
	assert.Error(t, err)
}

func TestAuthService_ExpiredToken(t *testing.T) {
	s := NewAuthService(newMemStore(), "test-secret", time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"participant_id": 1,
		"exp":            time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = s.ParticipantFromToken(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAuthorityVerifier(t *testing.T) {
	v := NewAuthorityVerifier(map[models.AuthorityType]string{
		models.AuthorityGridOperator: "operator-key",
		models.AuthorityRegulator:    "regulator-key",
	})
	halt := models.AuthorityOverride{
		Authority: models.AuthorityGridOperator,
		Action:    models.ActionHaltZone,
		Zone:      "north",
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
	}
	payload, err := halt.Payload()
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		sig, err := SignOverride("operator-key", halt, time.Minute)
		require.NoError(t, err)
		assert.NoError(t, v.Verify(models.AuthorityGridOperator, sig, payload))
	})

	t.Run("wrong key", func(t *testing.T) {
		sig, err := SignOverride("regulator-key", halt, time.Minute)
		require.NoError(t, err)
		assert.Error(t, v.Verify(models.AuthorityGridOperator, sig, payload))
	})

	t.Run("authority mismatch", func(t *testing.T) {
		sig, err := SignOverride("operator-key", halt, time.Minute)
		require.NoError(t, err)
		assert.Error(t, v.Verify(models.AuthorityRegulator, sig, payload))
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig, err := SignOverride("operator-key", halt, time.Minute)
		require.NoError(t, err)
		tampered := halt
		tampered.Zone = "south"
		other, err := tampered.Payload()
		require.NoError(t, err)
		assert.Error(t, v.Verify(models.AuthorityGridOperator, sig, other))
	})

	t.Run("expired", func(t *testing.T) {
		sig, err := SignOverride("operator-key", halt, -time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, v.Verify(models.AuthorityGridOperator, sig, payload), jwt.ErrTokenExpired)
	})

	t.Run("unknown authority", func(t *testing.T) {
		assert.Error(t, v.Verify("utility", "x", payload))
	})
}
