// Package memory provides an in-process store implementation, used by tests
// and by the relay daemon when no database is configured.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/inklet-io/inklet/pkg/store"
)

type Store struct {
	mu       sync.RWMutex
	docs     map[string]*store.Document
	profiles map[string]*store.Profile
}

var _ store.DocumentStore = (*Store)(nil)
var _ store.UserDirectory = (*Store)(nil)

func New() *Store {
	return &Store{
		docs:     make(map[string]*store.Document),
		profiles: make(map[string]*store.Profile),
	}
}

func (s *Store) Load(_ context.Context, documentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return "", store.ErrNotFound
	}
	return doc.Content, nil
}

func (s *Store) Persist(_ context.Context, documentID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		doc = &store.Document{ID: documentID, CreatedAt: time.Now()}
		s.docs[documentID] = doc
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Get(_ context.Context, documentID string) (*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *Store) Put(_ context.Context, doc *store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	s.docs[cp.ID] = &cp
	return nil
}

// PutProfile seeds identity records for ResolveDisplayInfo.
func (s *Store) PutProfile(p store.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.profiles[p.ID] = &cp
}

func (s *Store) ResolveDisplayInfo(_ context.Context, userID string) (store.DisplayInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return store.DisplayInfo{}, store.ErrNotFound
	}
	name := p.Email
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return store.DisplayInfo{DisplayName: name, AvatarURL: p.AvatarURL}, nil
}
