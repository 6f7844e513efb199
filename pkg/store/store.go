// Package store defines the persistence collaborators consumed by the sync
// subsystem. The CRUD layer of the surrounding product owns documents; the
// sync core only loads snapshots on open and writes debounced full-content
// snapshots. Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document or profile id resolves to nothing.
// Callers surface it as a redirect or no-op, never as a protocol error to
// other room members.
var ErrNotFound = errors.New("record not found")

// Document is a persisted document record. Content is the canonical
// serialized delta; WorkspaceID and FolderID place the document in the
// product's folder hierarchy and are nullable for top-level documents.
type Document struct {
	ID          string     `gorm:"type:uuid;primary_key" json:"id"`
	WorkspaceID *string    `gorm:"type:uuid;index" json:"workspace_id,omitempty"`
	FolderID    *string    `gorm:"type:uuid;index" json:"folder_id,omitempty"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `gorm:"index" json:"deleted_at,omitempty"`
}

// Profile is the identity record backing presence display info.
type Profile struct {
	ID        string `gorm:"type:uuid;primary_key" json:"id"`
	Email     string `gorm:"uniqueIndex" json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayInfo is what presence needs to render a collaborator.
type DisplayInfo struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ContentStore loads and persists serialized document content keyed by
// document id.
type ContentStore interface {
	Load(ctx context.Context, documentID string) (string, error)
	Persist(ctx context.Context, documentID, content string) error
}

// DocumentStore is the wider CRUD surface the relay's REST endpoints expose
// on behalf of the product. Late joiners fetch their snapshot through it.
type DocumentStore interface {
	ContentStore
	Get(ctx context.Context, documentID string) (*Document, error)
	Put(ctx context.Context, doc *Document) error
}

// UserDirectory resolves a user id to presence display info.
type UserDirectory interface {
	ResolveDisplayInfo(ctx context.Context, userID string) (DisplayInfo, error)
}
