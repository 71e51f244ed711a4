package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/northstack/katalyst/internal/blobstore"
	"github.com/northstack/katalyst/internal/config"
	"github.com/northstack/katalyst/internal/coordinator"
	"github.com/northstack/katalyst/internal/sampleapp"
	"github.com/northstack/katalyst/internal/txn"
	"github.com/northstack/katalyst/pkg/logger"
)

// RegistrationHandler exercises the coordinator end to end: a tracked
// insert and a queued domain event run inside one transaction, committing
// or rolling back together (§4.7, §4.4, §4.9).
type RegistrationHandler struct {
	Coordinator *coordinator.Coordinator
	Repo        *sampleapp.UserRepository
	Blobs       *blobstore.Store
	Auth        *config.AuthConfig
	Logger      *logger.Logger
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// AuthResponse is returned on successful registration.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
}

var errEmailTaken = errors.New("email already registered")

// Register creates a new user, demonstrating commit-then-publish ordering:
// the user.registered event only reaches the bus once the transaction that
// inserted the row has committed, and a duplicate email rolls the insert
// back before either side effect is visible.
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.Auth.BCryptCost)
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process password"})
		return
	}

	user, err := coordinator.Run(c.Request.Context(), h.Coordinator, "user.register", "",
		func(ctx context.Context, tx pgx.Tx) (*sampleapp.User, error) {
			existing, err := h.Repo.GetByEmail(ctx, tx, req.Email)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, errEmailTaken
			}

			u, err := sampleapp.NewUser(req.Email, req.Name, string(hashed))
			if err != nil {
				return nil, err
			}

			if err := h.Repo.TrackedInsert(ctx, h.Coordinator.OpLog, h.Blobs, tx, u); err != nil {
				return nil, err
			}

			payload, err := sampleapp.MarshalRegisteredEvent(u)
			if err != nil {
				return nil, err
			}
			txn.QueueEvent(ctx, "user.registered", payload, map[string]string{"source": "katalyst-example"})

			return u, nil
		},
	)

	if err != nil {
		if errors.Is(err, errEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": errEmailTaken.Error()})
			return
		}
		h.Logger.Error().Err(err).Msg("registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	token, expiresAt, err := h.generateToken(user)
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token: token, ExpiresAt: expiresAt, UserID: user.ID.String(), Email: user.Email,
	})
}

func (h *RegistrationHandler) generateToken(user *sampleapp.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(h.Auth.JWTExpiration)
	claims := jwt.MapClaims{
		"sub": user.ID.String(), "email": user.Email,
		"exp": expiresAt.Unix(), "iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.Auth.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
