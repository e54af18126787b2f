package apresolve

import (
	"context"
	"sync"

	"github.com/windrose-social/windrose/models"
)

// A fake remote-actor resolver, for use in tests.
type MockPersonResolver struct {
	mu     sync.RWMutex
	Actors map[string]*models.User
	Err    error
	Calls  int
}

var _ PersonResolver = (*MockPersonResolver)(nil)

func NewMockPersonResolver() *MockPersonResolver {
	return &MockPersonResolver{
		Actors: make(map[string]*models.User),
	}
}

func (m *MockPersonResolver) Insert(uri string, user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Actors[uri] = user
}

func (m *MockPersonResolver) ResolvePerson(ctx context.Context, uri string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actors[uri], nil
}
