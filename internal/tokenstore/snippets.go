package tokenstore

import (
	"context"
	"errors"
)

// SnippetStore keeps the builtin snippet tools' data in a Store, so snippets
// share the token store's backend and survive restarts with sqlite or valkey.
type SnippetStore struct {
	store Store
}

// NewSnippetStore wraps store.
func NewSnippetStore(store Store) *SnippetStore {
	return &SnippetStore{store: store}
}

// GetSnippet returns the named snippet and whether it exists.
func (s *SnippetStore) GetSnippet(ctx context.Context, name string) (string, bool, error) {
	data, err := s.store.Get(ctx, KindSnippet, name)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// SaveSnippet stores content under name without expiry.
func (s *SnippetStore) SaveSnippet(ctx context.Context, name, content string) error {
	return s.store.Put(ctx, KindSnippet, name, []byte(content), 0)
}
