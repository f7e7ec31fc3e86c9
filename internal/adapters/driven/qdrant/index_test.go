package qdrant

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

func TestPointID(t *testing.T) {
	a := pointID("doc-1", 0)

	_, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, a, pointID("doc-1", 0), "ids must be stable")
	assert.NotEqual(t, a, pointID("doc-1", 1))
	assert.NotEqual(t, a, pointID("doc-2", 0))
	// "doc-1" ordinal 10 must not collide with "doc-11" ordinal 0
	assert.NotEqual(t, pointID("doc-1", 10), pointID("doc-11", 0))
}

func TestToPoints(t *testing.T) {
	points, err := toPoints("doc-1", []domain.EmbeddedPassage{
		{Ordinal: 3, Page: 2, Text: "hello", Vector: []float32{1, 2}},
	})
	require.NoError(t, err)
	require.Len(t, points, 1)

	p := points[0]
	assert.Equal(t, pointID("doc-1", 3), p.GetId().GetUuid())
	assert.Equal(t, "doc-1", p.Payload[fieldDocumentID].GetStringValue())
	assert.Equal(t, int64(3), p.Payload[fieldOrdinal].GetIntegerValue())
	assert.Equal(t, int64(2), p.Payload[fieldPage].GetIntegerValue())
	assert.Equal(t, "hello", p.Payload[fieldText].GetStringValue())

	_, err = toPoints("doc-1", []domain.EmbeddedPassage{{Ordinal: 0}})
	assert.Error(t, err)
}

func TestFromPoints(t *testing.T) {
	points := []*qdrant.ScoredPoint{{
		Score: 0.87,
		Payload: map[string]*qdrant.Value{
			fieldText:    {Kind: &qdrant.Value_StringValue{StringValue: "hello"}},
			fieldOrdinal: {Kind: &qdrant.Value_IntegerValue{IntegerValue: 4}},
			fieldPage:    {Kind: &qdrant.Value_IntegerValue{IntegerValue: 2}},
		},
	}}

	got := fromPoints("doc-1", points)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, 4, got[0].Ordinal)
	assert.Equal(t, 2, got[0].Page)
	assert.Equal(t, "doc-1", got[0].DocumentID)
	assert.InDelta(t, 0.87, got[0].Score, 1e-6)
}

func TestNamespaceFilter(t *testing.T) {
	f := namespaceFilter("doc-1")
	require.Len(t, f.Must, 1)

	field := f.Must[0].GetField()
	assert.Equal(t, fieldDocumentID, field.GetKey())
	assert.Equal(t, "doc-1", field.GetMatch().GetKeyword())
}

func TestStaleFilter(t *testing.T) {
	points, err := toPoints("doc-1", []domain.EmbeddedPassage{
		{Ordinal: 0, Vector: []float32{1}},
		{Ordinal: 1, Vector: []float32{1}},
	})
	require.NoError(t, err)

	f := staleFilter("doc-1", points)
	require.Len(t, f.Must, 1)
	assert.Equal(t, "doc-1", f.Must[0].GetField().GetMatch().GetKeyword())
	require.Len(t, f.MustNot, 1)

	ids := f.MustNot[0].GetHasId().GetHasId()
	require.Len(t, ids, 2)
	assert.Equal(t, pointID("doc-1", 0), ids[0].GetUuid())
	assert.Equal(t, pointID("doc-1", 1), ids[1].GetUuid())

	all := staleFilter("doc-1", nil)
	assert.Empty(t, all.MustNot, "an empty upsert selects the whole namespace")
}

func TestNew_RequiresHost(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

// TestIndex_Integration runs against DOCCHAT_TEST_QDRANT_HOST (gRPC port 6334).
func TestIndex_Integration(t *testing.T) {
	host := os.Getenv("DOCCHAT_TEST_QDRANT_HOST")
	if host == "" {
		t.Skip("DOCCHAT_TEST_QDRANT_HOST not set")
	}

	collection := "docchat_test_" + strconv.FormatInt(int64(uuid.New().ID()), 10)
	idx, err := New(Config{Host: host, Collection: collection})
	require.NoError(t, err)
	ctx := context.Background()
	t.Cleanup(func() {
		_ = idx.client.DeleteCollection(ctx, collection)
		idx.Close()
	})

	require.NoError(t, idx.HealthCheck(ctx))

	empty, err := idx.Query(ctx, "doc-1", []float32{1, 0, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, empty)

	passages := []domain.EmbeddedPassage{
		{Ordinal: 0, Page: 1, Text: "north", Vector: []float32{1, 0, 0}},
		{Ordinal: 1, Page: 1, Text: "east", Vector: []float32{0, 1, 0}},
	}
	require.NoError(t, idx.Upsert(ctx, "doc-1", passages))
	require.NoError(t, idx.Upsert(ctx, "doc-1", passages))
	require.NoError(t, idx.Upsert(ctx, "doc-2", passages[:1]))

	n, err := idx.Count(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := idx.Query(ctx, "doc-1", []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "east", hits[0].Text)

	err = idx.Upsert(ctx, "doc-1", []domain.EmbeddedPassage{{Ordinal: 5, Vector: []float32{1, 0}}})
	assert.True(t, errors.Is(err, domain.ErrIndexWrite))

	// a shorter version drops the ordinals it no longer has
	require.NoError(t, idx.Upsert(ctx, "doc-1", []domain.EmbeddedPassage{
		{Ordinal: 0, Page: 1, Text: "whole page", Vector: []float32{1, 0, 0}},
	}))
	n, err = idx.Count(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err = idx.Query(ctx, "doc-1", []float32{0, 1, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "whole page", hits[0].Text)

	other, err := idx.Count(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}
