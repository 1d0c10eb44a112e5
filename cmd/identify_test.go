package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentify(t *testing.T) {
	db := &fakeFaceStore{
		embeddings: map[int]types.Embedding{1: {0.1, 0.2, 0.3}, 2: {0.3, 0.2, 0.1}},
		closest: []types.SimilarUser{
			{ID: 1, Username: "alice", Name: "Alice", Distance: 0.05},
			{ID: 2, Username: "bob", Name: "Bob", Distance: 0.4},
			{ID: 3, Username: "carol", Name: "Carol", Distance: 0.9},
		},
	}

	t.Run("confirms closest candidate", func(t *testing.T) {
		face := &fakeMatcher{embedding: types.Embedding{0.1, 0.2, 0.31}, match: true}
		res, err := identify(t.Context(), db, face, "face.jpg", IdentifyOptions{Limit: 5, MaxDistance: 0.6, Confirm: true})
		require.NoError(t, err)

		assert.Equal(t, []int{1, 2}, []int{res.Candidates[0].ID, res.Candidates[1].ID})
		require.NotNil(t, res.Confirmed)
		assert.True(t, *res.Confirmed)
		require.Len(t, face.targets, 1)
		assert.Equal(t, types.Embedding{0.1, 0.2, 0.3}, face.targets[0], "worker gets the stored embedding")
	})

	t.Run("limit and no confirmation", func(t *testing.T) {
		face := &fakeMatcher{embedding: types.Embedding{1}}
		res, err := identify(t.Context(), db, face, "face.jpg", IdentifyOptions{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, res.Candidates, 1)
		assert.Nil(t, res.Confirmed)
		assert.Empty(t, face.targets)
	})

	t.Run("nothing close enough", func(t *testing.T) {
		face := &fakeMatcher{embedding: types.Embedding{1}}
		res, err := identify(t.Context(), db, face, "face.jpg", IdentifyOptions{Limit: 5, MaxDistance: 0.01, Confirm: true})
		require.NoError(t, err)
		assert.Empty(t, res.Candidates)
		assert.Empty(t, face.targets)
	})

	t.Run("worker failure", func(t *testing.T) {
		face := &fakeMatcher{err: errors.New("no face found")}
		_, err := identify(t.Context(), db, face, "face.jpg", IdentifyOptions{Limit: 5})
		var shown shownError
		assert.True(t, errors.As(err, &shown))
	})
}

func TestWriteCandidateTable(t *testing.T) {
	var buf bytes.Buffer
	writeCandidateTable(&buf, []types.SimilarUser{{ID: 7, Username: "alice", Name: "Alice", Distance: 0.123456}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "DISTANCE")
	assert.Contains(t, lines[2], "0.1235")
}
