package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgrag/internal/adapter/weaviate"
	"kgrag/internal/retrieval"
	"kgrag/internal/testutils"
)

func TestWeaviateStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.SetupWeaviate()
	defer s.Teardown()

	store := weaviate.NewStore(s.Weaviate)
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))
	// Second run finds both classes complete.
	require.NoError(t, store.EnsureSchema(ctx))

	const url = "https://example.com/matrix"
	vec := []float32{0.1, 0.2, 0.3}

	require.NoError(t, store.StoreChunk(ctx, retrieval.Chunk{Graph: "movies", URL: url, Title: "The Matrix", Content: "The Matrix is a 1999 science fiction film", Vector: vec}))
	require.NoError(t, store.StoreChunk(ctx, retrieval.Chunk{Graph: "books", URL: url, Content: "The Matrix novelization", Vector: vec}))
	require.NoError(t, store.StoreTriples(ctx, []retrieval.Triple{
		{Graph: "movies", Subject: "Lana Wachowski", SubjectLabel: "Person", Relation: "DIRECTED", Object: "The Matrix", ObjectLabel: "Movie", URL: url, Vector: vec},
	}))

	chunks, err := store.SearchChunks(ctx, "movies", "Matrix", vec, 0.0, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "The Matrix", chunks[0].Title)

	facts, err := store.SearchTriples(ctx, "movies", "directed", vec, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Lana Wachowski", facts[0].Subject)

	require.NoError(t, store.DeleteBySourceURL(ctx, "movies", url))

	chunks, err = store.SearchChunks(ctx, "movies", "Matrix", vec, 0.0, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	facts, err = store.SearchTriples(ctx, "movies", "directed", vec, 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, facts)

	// Other graphs are untouched.
	chunks, err = store.SearchChunks(ctx, "books", "Matrix", vec, 0.0, 10)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}
