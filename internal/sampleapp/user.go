// Package sampleapp is the user-registration service that exercises the
// coordinator end to end (cmd/katalyst-example): a tracked insert, a
// queued domain event published only on commit, and a rollback path a
// duplicate email takes before anything reaches the wire.
package sampleapp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/northstack/katalyst/internal/blobstore"
	"github.com/northstack/katalyst/internal/domain/valueobjects"
	"github.com/northstack/katalyst/internal/oplog"
	"github.com/northstack/katalyst/internal/storage"
)

// User is the sample domain's only aggregate.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// UserRepository persists users inside the ambient database transaction.
// Insert and GetByEmail receive the pgx.Tx the coordinator opened, never
// acquiring a connection of their own (§5: "the transaction owns exactly
// one DB connection"). Delete is the exception: the undo engine (C6) calls
// it well after the original transaction has already rolled back or
// committed, so it runs against the pool directly like any other
// out-of-band repository call.
type UserRepository struct {
	db *storage.DB
}

// NewUserRepository builds the sample repository.
func NewUserRepository(db *storage.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByEmail returns the user with the given email, or nil if none exists.
func (r *UserRepository) GetByEmail(ctx context.Context, tx pgx.Tx, email string) (*User, error) {
	var u User
	err := tx.QueryRow(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	return &u, nil
}

// Insert writes a new user row.
func (r *UserRepository) Insert(ctx context.Context, tx pgx.Tx, u *User) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Delete implements undo.Deleter: it reverses a tracked INSERT by removing
// the row named by resourceID. resourceType is unused since this
// repository only ever manages one resource type.
func (r *UserRepository) Delete(ctx context.Context, resourceType, resourceID string) error {
	id, err := uuid.Parse(resourceID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", resourceID, err)
	}
	_, err = r.db.Pool().Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user %s: %w", resourceID, err)
	}
	return nil
}

// operationSnapshot is what TrackedInsert records as operationData: enough
// of the row to audit what was written, deliberately excluding the password
// hash.
type operationSnapshot struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// TrackedInsert wraps Insert with the operation log (C4): the insert is
// recorded PENDING, whether or not it succeeded, with the user id as
// resourceId, the row InsertUndo deletes if the enclosing transaction later
// needs reversing; no undoData is recorded. blobs may be
// nil; when non-nil and the snapshot exceeds its configured threshold, the
// operationData column stores a blob reference instead of the literal bytes
// (§3's opaque data bags, enriched per internal/blobstore).
func (r *UserRepository) TrackedInsert(ctx context.Context, store oplog.Store, blobs *blobstore.Store, tx pgx.Tx, u *User) error {
	opData, err := json.Marshal(operationSnapshot{Email: u.Email, Name: u.Name})
	if err != nil {
		return fmt.Errorf("failed to marshal operation snapshot: %w", err)
	}
	opData, err = blobs.Offload(ctx, opData)
	if err != nil {
		return err
	}

	_, err = oplog.Tracked[struct{}](ctx, store, r, oplog.OpInsert, "User", u.ID.String(), opData, nil,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.Insert(ctx, tx, u)
		},
	)
	return err
}

// RegisteredEvent is the payload queued on successful registration.
type RegisteredEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// NewUser validates email and builds a User ready for insertion.
// passwordHash is the already-bcrypt-hashed password.
func NewUser(email, name, passwordHash string) (*User, error) {
	validated, err := valueobjects.NewEmail(email)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           uuid.New(),
		Email:        validated.String(),
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}, nil
}

// MarshalRegisteredEvent builds the JSON payload for a user.registered
// event.
func MarshalRegisteredEvent(u *User) (json.RawMessage, error) {
	return json.Marshal(RegisteredEvent{UserID: u.ID.String(), Email: u.Email, Name: u.Name})
}

// UsersTableMigration creates the sample service's users table.
const UsersTableMigration = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`
