package tokenstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/streamgate/crypto"
)

// Memory is an in-process Store used in tests and single-node development.
// It applies the same validation and encryption as the Postgres store.
type Memory struct {
	Cipher crypto.Cipher
	Now    func() time.Time

	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory(c crypto.Cipher) *Memory {
	return &Memory{Cipher: c, Now: time.Now, records: make(map[string]Record)}
}

func (s *Memory) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Memory) Upsert(ctx context.Context, login string, tok Tokens, meta ChannelMetadata) (*Record, error) {
	if err := validate(login, tok); err != nil {
		return nil, err
	}
	accessCipher, refreshCipher, err := encryptTokens(s.Cipher, tok)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := Record{
		ChannelLogin:       login,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		ExpiresAt:          now.Add(time.Duration(tok.ExpiresIn) * time.Second),
		Scope:              append([]string(nil), tok.Scope...),
		TokenType:          tok.TokenType,
		Metadata:           meta,
		ConnectedAt:        now,
		Status:             StatusConnected,
	}
	s.mu.Lock()
	s.records[login] = rec
	s.mu.Unlock()
	out := rec
	return &out, nil
}

func (s *Memory) Find(ctx context.Context, login string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[login]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *Memory) MarkStatus(ctx context.Context, login string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[login]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	s.records[login] = rec
	return nil
}

func (s *Memory) Remove(ctx context.Context, login string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[login]
	delete(s.records, login)
	return ok, nil
}

func (s *Memory) ListAll(ctx context.Context, includeSecrets bool) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if !includeSecrets {
			rec.AccessTokenCipher = ""
			rec.RefreshTokenCipher = ""
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.After(out[j].ConnectedAt) })
	return out, nil
}
