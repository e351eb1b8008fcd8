package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"petboarding/internal/database"
	"petboarding/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestBuild(t *testing.T) {
	now := day(1)
	p, err := models.NewPlanning("boarding", "Собаки", "", decimal.NewFromInt(30), now)
	require.NoError(t, err)
	s, err := p.AddSlot(day(10), 2, now)
	require.NoError(t, err)
	require.NoError(t, s.Reserve(2))
	_, err = p.AddSlot(day(12), 3, now)
	require.NoError(t, err)

	f, err := Build([]*models.Planning{p}, day(10), day(12))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())
	cell := func(name string) string {
		v, err := f.GetCellValue(sheetName, name)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "10.06", cell("B2"))
	assert.Equal(t, "12.06", cell("D2"))
	assert.Equal(t, "Собаки", cell("A3"))
	assert.Equal(t, "2/2", cell("B3"))
	assert.Equal(t, "-", cell("C3"))
	assert.Equal(t, "0/3", cell("D3"))
}

func TestExportOccupancy(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	p, err := models.NewPlanning("boarding", "Собаки", "", decimal.NewFromInt(30), day(1))
	require.NoError(t, err)
	_, err = p.AddSlot(day(10), 2, day(1))
	require.NoError(t, err)
	require.NoError(t, db.CreatePlanning(ctx, p))
	require.NoError(t, db.ReserveCapacity(ctx, p.Slots[0].ID, 1))

	dir := filepath.Join(t.TempDir(), "exports")
	exporter := NewOccupancyExporter(db, dir, &logger)

	path, err := exporter.ExportOccupancy(ctx, "", day(10), day(11))
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue(sheetName, "B3")
	require.NoError(t, err)
	assert.Equal(t, "1/2", v)

	_, err = exporter.ExportOccupancy(ctx, p.ID, day(11), day(10))
	assert.ErrorIs(t, err, models.ErrInvalidDateRange)
}
