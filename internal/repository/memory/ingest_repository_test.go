package memory

import (
	"context"
	"fmt"
	"testing"

	"dropwatch/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestRepository_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestRepository(3)

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, &repository.IngestRecord{
			ID:         fmt.Sprintf("id-%d", i),
			Descriptor: fmt.Sprintf("d%d.json", i),
			Status:     repository.IngestStatusDone,
		})
		require.NoError(t, err)
	}

	_, err := repo.GetByID(ctx, "id-0")
	require.ErrorIs(t, err, repository.ErrNotFound)

	rec, err := repo.GetByID(ctx, "id-4")
	require.NoError(t, err)
	assert.Equal(t, "d4.json", rec.Descriptor)

	records, err := repo.List(ctx, repository.ListIngestsParams{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "id-4", records[0].ID)
	assert.Equal(t, "id-2", records[2].ID)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts[repository.IngestStatusDone])
}

func TestIngestRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestRepository(10)

	seed := []repository.IngestRecord{
		{ID: "1", Descriptor: "a.json", Status: repository.IngestStatusAborted},
		{ID: "2", Descriptor: "a.json", Status: repository.IngestStatusDone},
		{ID: "3", Descriptor: "b.json", Status: repository.IngestStatusError},
		{ID: "4", Descriptor: "c.json", Status: repository.IngestStatusError},
	}
	for i := range seed {
		_, err := repo.Create(ctx, &seed[i])
		require.NoError(t, err)
	}

	byStatus, err := repo.List(ctx, repository.ListIngestsParams{Statuses: []repository.IngestStatus{repository.IngestStatusError}})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	byDescriptor, err := repo.List(ctx, repository.ListIngestsParams{Descriptor: "a.json"})
	require.NoError(t, err)
	require.Len(t, byDescriptor, 2)
	assert.Equal(t, "2", byDescriptor[0].ID)

	paged, err := repo.List(ctx, repository.ListIngestsParams{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "3", paged[0].ID)
}
