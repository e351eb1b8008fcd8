package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"petboarding/internal/domain"
	"petboarding/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Загрузка"

// OccupancyExporter writes an xlsx grid of plannings by date with reserved and free places.
type OccupancyExporter struct {
	plannings domain.PlanningRepository
	dir       string
	logger    *zerolog.Logger
}

func NewOccupancyExporter(plannings domain.PlanningRepository, dir string, logger *zerolog.Logger) *OccupancyExporter {
	return &OccupancyExporter{plannings: plannings, dir: dir, logger: logger}
}

// ExportOccupancy builds the report for one planning, or every active one when planningID is empty,
// and saves it under the export directory. It returns the file path.
func (e *OccupancyExporter) ExportOccupancy(ctx context.Context, planningID string, from, to time.Time) (string, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if to.Before(from) {
		return "", models.ErrInvalidDateRange
	}

	// Создаем папку для экспорта, если не существует
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	plannings, err := e.load(ctx, planningID, from, to)
	if err != nil {
		return "", err
	}

	f, err := Build(plannings, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("occupancy_%s_to_%s.xlsx", from.Format(models.DateLayout), to.Format(models.DateLayout))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("plannings", len(plannings)).Msg("Excel file created")
	return filePath, nil
}

func (e *OccupancyExporter) load(ctx context.Context, planningID string, from, to time.Time) ([]*models.Planning, error) {
	if planningID != "" {
		p, err := e.plannings.GetPlanningForRange(ctx, planningID, from, to)
		if err != nil {
			return nil, err
		}
		return []*models.Planning{p}, nil
	}

	heads, err := e.plannings.ListPlannings(ctx, true)
	if err != nil {
		return nil, err
	}
	plannings := make([]*models.Planning, 0, len(heads))
	for _, h := range heads {
		p, err := e.plannings.GetPlanningForRange(ctx, h.ID, from, to)
		if err != nil {
			return nil, err
		}
		plannings = append(plannings, p)
	}
	return plannings, nil
}

// Build lays the report out in memory. Row 2 holds the dates, column A the plannings.
func Build(plannings []*models.Planning, from, to time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Период: %s - %s", from.Format("02.01.2006"), to.Format("02.01.2006")))

	dates := models.DatesBetween(from, to)
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, d := range dates {
		cell, _ := excelize.CoordinatesToCellName(i+2, 2)
		_ = f.SetCellValue(sheetName, cell, d.Format("02.01"))
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	nameStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	fullStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	freeStyle, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for r, p := range plannings {
		row := r + 3
		nameCell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(sheetName, nameCell, p.Name)
		_ = f.SetCellStyle(sheetName, nameCell, nameCell, nameStyle)

		for i, d := range dates {
			cell, _ := excelize.CoordinatesToCellName(i+2, row)
			slot := p.GetSlotForDate(d)
			if slot == nil {
				_ = f.SetCellValue(sheetName, cell, "-")
				continue
			}
			_ = f.SetCellValue(sheetName, cell, fmt.Sprintf("%d/%d", slot.ReservedCapacity, slot.MaxCapacity))
			if slot.AvailableCapacity() == 0 {
				_ = f.SetCellStyle(sheetName, cell, cell, fullStyle)
			} else {
				_ = f.SetCellStyle(sheetName, cell, cell, freeStyle)
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 25)
	if len(dates) > 0 {
		last, _ := excelize.ColumnNumberToName(len(dates) + 1)
		_ = f.SetColWidth(sheetName, "B", last, 10)
		_ = f.MergeCell(sheetName, "A1", last+"1")
	}

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}
