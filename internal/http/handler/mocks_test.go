package handler_test

import (
	"context"

	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/store"
)

type fakeItemStore struct {
	items map[string]*model.Item
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{items: map[string]*model.Item{}}
}

func (s *fakeItemStore) Upsert(_ context.Context, item *model.Item) error {
	copied := *item
	s.items[item.ID] = &copied
	return nil
}

func (s *fakeItemStore) GetByID(_ context.Context, id string) (*model.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *fakeItemStore) ListByAgent(_ context.Context, agent, sourceType string, limit int32) ([]model.Item, error) {
	var out []model.Item
	for _, item := range s.items {
		if item.AgentName != agent {
			continue
		}
		if sourceType != "" && item.SourceType != sourceType {
			continue
		}
		if int32(len(out)) >= limit {
			break
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *fakeItemStore) Delete(_ context.Context, id string) error {
	delete(s.items, id)
	return nil
}

type fakeBlobStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
	}
}

func (s *fakeBlobStore) Put(_ context.Context, key string, content []byte, contentType string) error {
	s.objects[key] = content
	s.contentTypes[key] = contentType
	return nil
}

func (s *fakeBlobStore) Get(_ context.Context, key string) ([]byte, string, error) {
	content, ok := s.objects[key]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return content, s.contentTypes[key], nil
}

func (s *fakeBlobStore) Remove(_ context.Context, key string) error {
	delete(s.objects, key)
	delete(s.contentTypes, key)
	return nil
}
