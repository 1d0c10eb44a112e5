package api

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/types"
)

type memStore struct {
	mu         sync.Mutex
	users      []types.User
	embeddings map[int]types.Embedding
	messages   []types.Message
	pingErr    error
}

func newMemStore() *memStore {
	return &memStore{embeddings: map[int]types.Embedding{}}
}

func (s *memStore) CreateUser(_ context.Context, nu types.NewUser) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == nu.Username {
			return types.User{}, store.ErrUsernameTaken
		}
	}
	u := types.User{
		ID:           len(s.users) + 1,
		Username:     nu.Username,
		PasswordHash: nu.PasswordHash,
		Name:         nu.Name,
		Type:         nu.Type,
		Signature:    nu.Signature,
		HasFace:      len(nu.Embedding) > 0,
		CreatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if u.HasFace {
		s.embeddings[u.ID] = nu.Embedding
	}
	s.users = append(s.users, u)
	return u, nil
}

func (s *memStore) GetUserByUsername(_ context.Context, username string) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (s *memStore) GetUserByID(_ context.Context, id int) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (s *memStore) ListUsers(context.Context) ([]types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.users), nil
}

func (s *memStore) GetFaceEmbedding(_ context.Context, userID int) (types.Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embeddings[userID], nil
}

func (s *memStore) participant(id int) types.Participant {
	for _, u := range s.users {
		if u.ID == id {
			return types.Participant{ID: u.ID, Name: u.Name, Type: u.Type, Signature: u.Signature}
		}
	}
	return types.Participant{}
}

func (s *memStore) CreateMessage(_ context.Context, nm types.NewMessage) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := types.Message{
		ID:                  int64(len(s.messages) + 1),
		Subject:             nm.Subject,
		Body:                nm.Body,
		IsFaceVerified:      nm.IsFaceVerified,
		IsDigitallyVerified: nm.IsDigitallyVerified,
		Timestamp:           time.Date(2024, 5, 1, 12, 0, len(s.messages), 0, time.UTC),
		From:                s.participant(nm.SenderID),
		To:                  s.participant(nm.ReceiverID),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

// newestFirst mirrors the ORDER BY of the real store.
func (s *memStore) newestFirst(keep func(types.Message) bool) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if keep(s.messages[i]) {
			out = append(out, s.messages[i])
		}
	}
	return out
}

func (s *memStore) ListInbox(_ context.Context, userID int) ([]types.Message, error) {
	return s.newestFirst(func(m types.Message) bool { return m.To.ID == userID }), nil
}

func (s *memStore) ListSent(_ context.Context, userID int) ([]types.Message, error) {
	return s.newestFirst(func(m types.Message) bool { return m.From.ID == userID }), nil
}

func (s *memStore) ListAllMessages(context.Context) ([]types.Message, error) {
	return s.newestFirst(func(types.Message) bool { return true }), nil
}

func (s *memStore) Ping(context.Context) error { return s.pingErr }

// fakeFace records the image paths it was given and whether they existed at call time.
type fakeFace struct {
	mu          sync.Mutex
	embedding   types.Embedding
	generateErr error
	match       bool
	verifyErr   error
	paths       []string
	verifyCalls int
}

var errWorkerDown = errors.New("worker down")

func (f *fakeFace) record(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	_, err := os.Stat(path)
	return err
}

func (f *fakeFace) Generate(_ context.Context, imagePath string) (types.Embedding, error) {
	if err := f.record(imagePath); err != nil {
		return nil, err
	}
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.embedding, nil
}

func (f *fakeFace) Verify(_ context.Context, imagePath string, target types.Embedding) (bool, error) {
	if err := f.record(imagePath); err != nil {
		return false, err
	}
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if len(target) == 0 {
		return false, errors.New("empty target")
	}
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.match, nil
}
