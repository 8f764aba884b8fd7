package testfixtures

import (
	"context"
	"sort"
	"sync"

	"github.com/example/deskbot/internal/persistence"
)

// MemoryStore is an in-memory implementation of the persistence repositories
// for tests that do not need a real database.
type MemoryStore struct {
	mu          sync.Mutex
	configs     map[string]persistence.BotConfig
	credentials map[string]persistence.Credential
	attempts    []persistence.BookingAttempt
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:     make(map[string]persistence.BotConfig),
		credentials: make(map[string]persistence.Credential),
	}
}

func (s *MemoryStore) SaveConfig(_ context.Context, cfg persistence.BotConfig) error {
	if cfg.UserID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Document = append([]byte(nil), cfg.Document...)
	s.configs[cfg.UserID] = cfg
	return nil
}

func (s *MemoryStore) GetConfig(_ context.Context, userID string) (persistence.BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[userID]
	if !ok {
		return persistence.BotConfig{}, persistence.ErrNotFound
	}
	return cfg, nil
}

func (s *MemoryStore) SaveCredential(_ context.Context, cred persistence.Credential) error {
	if cred.UserID == "" || len(cred.Ciphertext) == 0 {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred.Ciphertext = append([]byte(nil), cred.Ciphertext...)
	s.credentials[cred.UserID] = cred
	return nil
}

func (s *MemoryStore) GetCredential(_ context.Context, userID string) (persistence.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[userID]
	if !ok {
		return persistence.Credential{}, persistence.ErrNotFound
	}
	return cred, nil
}

func (s *MemoryStore) AppendAttempt(_ context.Context, attempt persistence.BookingAttempt) error {
	if attempt.ID == "" || attempt.UserID == "" || attempt.Date == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, userID string, limit int) ([]persistence.BookingAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.BookingAttempt
	for _, a := range s.attempts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) BookedDates(_ context.Context, userID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booked := make(map[string]bool)
	for _, a := range s.attempts {
		if a.UserID == userID && a.Outcome == persistence.OutcomeBooked {
			booked[a.Date] = true
		}
	}
	return booked, nil
}
