package users

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps users in process memory. Everything is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	byEmail map[string]*User
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		byEmail: make(map[string]*User),
		now:     time.Now,
	}
}

// FindByEmail looks a user up by email.
func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	found := *u
	return &found, nil
}

// Create inserts a user.
func (s *MemoryStore) Create(ctx context.Context, name, email, passwordHash string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return nil, ErrAlreadyExists
	}

	now := s.now().UTC()
	u := &User{
		ID:           s.nextID,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nextID++
	s.byEmail[email] = u

	created := *u
	return &created, nil
}

// Save updates a user. Changing the email re-keys the record.
func (s *MemoryStore) Save(ctx context.Context, u *User) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *User
	for _, candidate := range s.byEmail {
		if candidate.ID == u.ID {
			current = candidate
			break
		}
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if other, taken := s.byEmail[u.Email]; taken && other.ID != u.ID {
		return nil, ErrAlreadyExists
	}

	saved := *u
	saved.CreatedAt = current.CreatedAt
	saved.UpdatedAt = s.now().UTC()

	delete(s.byEmail, current.Email)
	stored := saved
	s.byEmail[saved.Email] = &stored

	return &saved, nil
}

