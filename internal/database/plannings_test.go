package database

import (
	"context"
	"sync"
	"testing"

	"petboarding/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanning_CreateAndLoad(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedPlanning(t, db, 3, 12, 10, 11)

	got, err := db.GetPlanning(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Boarding", got.Name)
	assert.Equal(t, "30", got.DailyRate.String())
	assert.True(t, got.IsActive)
	require.Len(t, got.Slots, 3)
	assert.Equal(t, day(10), got.Slots[0].Date)
	assert.Equal(t, 3, got.Slots[0].MaxCapacity)

	ranged, err := db.GetPlanningForRange(ctx, p.ID, day(11), day(12))
	require.NoError(t, err)
	assert.Len(t, ranged.Slots, 2)

	byPrestation, err := db.GetPlanningByPrestation(ctx, "boarding")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byPrestation.ID)

	_, err = db.GetPlanning(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := db.ListPlannings(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPlanning_DuplicateSlotDateRejected(t *testing.T) {
	db := setupTestDB(t)
	p := seedPlanning(t, db, 1, 10)

	dup := *p.Slots[0]
	dup.ID = "other"
	err := db.AddSlots(context.Background(), []*models.AvailableSlot{&dup})
	assert.Error(t, err)
}

func TestReserveCapacity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedPlanning(t, db, 2, 10)
	slotID := p.Slots[0].ID

	require.NoError(t, db.ReserveCapacity(ctx, slotID, 1))
	assert.ErrorIs(t, db.ReserveCapacity(ctx, slotID, 2), ErrCapacityConflict)
	require.NoError(t, db.ReserveCapacity(ctx, slotID, 1))
	assert.ErrorIs(t, db.ReserveCapacity(ctx, slotID, 1), ErrCapacityConflict)
	assert.ErrorIs(t, db.ReserveCapacity(ctx, "missing", 1), ErrNotFound)

	slot, err := db.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, 2, slot.ReservedCapacity)
}

func TestReleaseCapacity_FloorsAtZero(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedPlanning(t, db, 3, 10)
	slotID := p.Slots[0].ID

	require.NoError(t, db.ReserveCapacity(ctx, slotID, 2))
	require.NoError(t, db.ReleaseCapacity(ctx, slotID, 2))
	require.NoError(t, db.ReleaseCapacity(ctx, slotID, 2))

	slot, err := db.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, 0, slot.ReservedCapacity)

	assert.ErrorIs(t, db.ReleaseCapacity(ctx, "missing", 1), ErrNotFound)
}

func TestReserveCapacity_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedPlanning(t, db, 3, 10)
	slotID := p.Slots[0].ID

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- db.Do(ctx, func(ctx context.Context) error {
				return db.ReserveCapacity(ctx, slotID, 1)
			})
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
		} else {
			assert.ErrorIs(t, err, ErrCapacityConflict)
		}
	}
	assert.Equal(t, 3, success)

	slot, err := db.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, 3, slot.ReservedCapacity)
}
