package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/gridledger/internal/models"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// ParticipantStore persists registered participants
type ParticipantStore interface {
	CreateParticipant(ctx context.Context, username, passwordHash string) (*models.Participant, error)
	GetParticipantByUsername(ctx context.Context, username string) (*models.Participant, error)
}

// AuthService handles participant authentication
type AuthService struct {
	Store  ParticipantStore
	secret []byte
	ttl    time.Duration
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(store ParticipantStore, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{Store: store, secret: []byte(secret), ttl: ttl}
}

// Register creates a new participant with hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.Participant, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	// bcrypt ignores input past 72 bytes
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	p, err := s.Store.CreateParticipant(ctx, username, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return p, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	p, err := s.Store.GetParticipantByUsername(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"participant_id": int64(p.ID),
		"username":       p.Username,
		"exp":            time.Now().Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

// ParticipantFromToken extracts the participant id from a JWT
func (s *AuthService) ParticipantFromToken(tokenString string) (models.ParticipantID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token claims")
	}
	id, ok := claims["participant_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("token missing participant_id")
	}
	return models.ParticipantID(id), nil
}
