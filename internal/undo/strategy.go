// Package undo implements the Undo Strategy Registry & Retry Policy (C5)
// and the Undo Engine (C6) that drives best-effort reversal of a failed
// workflow's committed operations.
package undo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/northstack/katalyst/internal/oplog"
)

// Strategy answers two questions for an operation-log entry: can it handle
// this (operationType, resourceType) pair, and can it undo one such entry?
// Strategies are tried in registration order; the first that accepts an
// entry runs (§4.5).
type Strategy interface {
	CanHandle(operationType, resourceType string) bool
	Undo(ctx context.Context, entry *oplog.Entry) error
}

// Deleter performs the row delete the insert-undo strategy issues.
type Deleter interface {
	Delete(ctx context.Context, resourceType, resourceID string) error
}

// Writer performs the pre-image write the update/delete-undo strategies
// issue.
type Writer interface {
	Write(ctx context.Context, resourceType string, preImage map[string]interface{}) error
}

// Registry holds strategies in registration order and dispatches an entry
// to the first one that accepts it.
type Registry struct {
	strategies []Strategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a strategy, lowest priority (tried last).
func (r *Registry) Register(s Strategy) *Registry {
	r.strategies = append(r.strategies, s)
	return r
}

// Resolve returns the first strategy that accepts (operationType,
// resourceType), or nil if none does.
func (r *Registry) Resolve(operationType, resourceType string) Strategy {
	for _, s := range r.strategies {
		if s.CanHandle(operationType, resourceType) {
			return s
		}
	}
	return nil
}

// DefaultRegistry builds the registry described in §4.5: INSERT reverses by
// delete, UPDATE and DELETE reverse by writing the captured pre-image, and
// an API-call strategy reverses a remote side effect named in undoData.
func DefaultRegistry(deleter Deleter, writer Writer, httpClient *resty.Client) *Registry {
	return NewRegistry().
		Register(&InsertUndo{Deleter: deleter}).
		Register(&UpdateUndo{Writer: writer}).
		Register(&DeleteUndo{Writer: writer}).
		Register(&APICallUndo{Client: httpClient})
}

// InsertUndo reverses an INSERT by deleting the row named by resourceId.
type InsertUndo struct {
	Deleter Deleter
}

func (s *InsertUndo) CanHandle(operationType, resourceType string) bool {
	return operationType == oplog.OpInsert
}

func (s *InsertUndo) Undo(ctx context.Context, entry *oplog.Entry) error {
	if entry.ResourceID == "" {
		return fmt.Errorf("insert-undo: missing resourceId for %s", entry.ResourceType)
	}
	return s.Deleter.Delete(ctx, entry.ResourceType, entry.ResourceID)
}

// UpdateUndo reverses an UPDATE by writing back the pre-image captured in
// undoData.
type UpdateUndo struct {
	Writer Writer
}

func (s *UpdateUndo) CanHandle(operationType, resourceType string) bool {
	return operationType == oplog.OpUpdate
}

func (s *UpdateUndo) Undo(ctx context.Context, entry *oplog.Entry) error {
	preImage, err := decodeUndoData(entry)
	if err != nil {
		return err
	}
	return s.Writer.Write(ctx, entry.ResourceType, preImage)
}

// DeleteUndo reverses a DELETE by reinserting the pre-image captured in
// undoData.
type DeleteUndo struct {
	Writer Writer
}

func (s *DeleteUndo) CanHandle(operationType, resourceType string) bool {
	return operationType == oplog.OpDelete
}

func (s *DeleteUndo) Undo(ctx context.Context, entry *oplog.Entry) error {
	preImage, err := decodeUndoData(entry)
	if err != nil {
		return err
	}
	return s.Writer.Write(ctx, entry.ResourceType, preImage)
}

// APICallUndo reverses an API_CALL / EXTERNAL_CALL operation by calling a
// remote endpoint named in undoData ("endpoint" and "remote_id" keys).
type APICallUndo struct {
	Client *resty.Client
}

func (s *APICallUndo) CanHandle(operationType, resourceType string) bool {
	return operationType == oplog.OpAPICall || operationType == oplog.OpExternalCall
}

func (s *APICallUndo) Undo(ctx context.Context, entry *oplog.Entry) error {
	preImage, err := decodeUndoData(entry)
	if err != nil {
		return err
	}
	endpoint, _ := preImage["endpoint"].(string)
	remoteID, _ := preImage["remote_id"].(string)
	if endpoint == "" || remoteID == "" {
		return fmt.Errorf("api-call-undo: undoData must name endpoint and remote_id")
	}

	resp, err := s.Client.R().
		SetContext(ctx).
		SetPathParam("id", remoteID).
		Delete(endpoint)
	if err != nil {
		return fmt.Errorf("api-call-undo: request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("api-call-undo: remote returned %s", resp.Status())
	}
	return nil
}

func decodeUndoData(entry *oplog.Entry) (map[string]interface{}, error) {
	if len(entry.UndoData) == 0 {
		return nil, fmt.Errorf("undo: missing undoData for operation index %d", entry.OperationIndex)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(entry.UndoData, &data); err != nil {
		return nil, fmt.Errorf("undo: invalid undoData: %w", err)
	}
	return data, nil
}
