package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFaceStore struct {
	users      map[string]types.User
	embeddings map[int]types.Embedding
	closest    []types.SimilarUser
}

func (s *fakeFaceStore) GetUserByUsername(_ context.Context, username string) (types.User, error) {
	u, ok := s.users[username]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *fakeFaceStore) GetFaceEmbedding(_ context.Context, userID int) (types.Embedding, error) {
	return s.embeddings[userID], nil
}

func (s *fakeFaceStore) FindClosestUsers(_ context.Context, _ types.Embedding, limit int) ([]types.SimilarUser, error) {
	return s.closest[:min(limit, len(s.closest))], nil
}

type fakeMatcher struct {
	embedding types.Embedding
	match     bool
	err       error
	targets   []types.Embedding
}

func (f *fakeMatcher) Generate(context.Context, string) (types.Embedding, error) {
	return f.embedding, f.err
}

func (f *fakeMatcher) Verify(_ context.Context, _ string, target types.Embedding) (bool, error) {
	f.targets = append(f.targets, target)
	return f.match, f.err
}

func TestRunCheck(t *testing.T) {
	db := &fakeFaceStore{
		users: map[string]types.User{
			"alice": {ID: 1, Username: "alice", Name: "Alice", HasFace: true},
			"bob":   {ID: 2, Username: "bob", Name: "Bob"},
		},
		embeddings: map[int]types.Embedding{1: {0.1, 0.2, 0.3}},
	}
	img := filepath.Join(t.TempDir(), "face.jpg")

	tests := []struct {
		name      string
		username  string
		face      *fakeMatcher
		wantErr   error
		wantCalls int
	}{
		{name: "match", username: "alice", face: &fakeMatcher{match: true}, wantCalls: 1},
		{name: "mismatch is not an error", username: "alice", face: &fakeMatcher{}, wantCalls: 1},
		{name: "unknown user", username: "ghost", face: &fakeMatcher{}, wantErr: store.ErrNotFound},
		{name: "not enrolled", username: "bob", face: &fakeMatcher{}, wantErr: errNotEnrolled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runCheck(t.Context(), db, tt.face, tt.username, img)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var shown shownError
				assert.True(t, errors.As(err, &shown), "error box is printed by runCheck")
			} else {
				require.NoError(t, err)
			}
			require.Len(t, tt.face.targets, tt.wantCalls)
			if tt.wantCalls > 0 {
				assert.Equal(t, types.Embedding{0.1, 0.2, 0.3}, tt.face.targets[0])
			}
		})
	}
}
