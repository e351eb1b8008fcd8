// Package catalog seeds plannings and their daily capacity from a YAML file.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"petboarding/internal/database"
	"petboarding/internal/domain"
	"petboarding/internal/models"
	"petboarding/internal/service"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Catalog is the seed file layout:
//
//	plannings:
//	  - prestation_id: boarding-dogs
//	    name: Передержка собак
//	    daily_rate: "1500.00"
//	    capacity: 8
//	    from: 2025-06-01
//	    to: 2025-08-31
type Catalog struct {
	Plannings []Entry `yaml:"plannings"`
}

type Entry struct {
	PrestationID string `yaml:"prestation_id"`
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	DailyRate    string `yaml:"daily_rate"`
	Capacity     int    `yaml:"capacity"`
	From         string `yaml:"from"`
	To           string `yaml:"to"`
}

// Result counts what Apply changed.
type Result struct {
	Created    int
	Extended   int
	SlotsAdded int
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Plannings) == 0 {
		return nil, errors.New("no plannings in catalog")
	}
	return &c, nil
}

type parsedEntry struct {
	Entry
	rate     decimal.Decimal
	from, to time.Time
}

func (e Entry) parse() (parsedEntry, error) {
	out := parsedEntry{Entry: e}
	if e.PrestationID == "" || e.Name == "" {
		return out, fmt.Errorf("%w: prestation_id and name", models.ErrMissingField)
	}
	if e.Capacity < 0 {
		return out, models.ErrInvalidCapacity
	}
	var err error
	if out.rate, err = decimal.NewFromString(e.DailyRate); err != nil {
		return out, fmt.Errorf("%w: daily_rate %q", models.ErrValidation, e.DailyRate)
	}
	if out.from, err = models.ParseDate(e.From); err != nil {
		return out, fmt.Errorf("%w: from %q", models.ErrValidation, e.From)
	}
	if out.to, err = models.ParseDate(e.To); err != nil {
		return out, fmt.Errorf("%w: to %q", models.ErrValidation, e.To)
	}
	if out.to.Before(out.from) {
		return out, models.ErrInvalidDateRange
	}
	return out, nil
}

// Seeder creates missing plannings and adds slots for days a planning does not cover yet.
// Days that already have a slot keep their capacity.
type Seeder struct {
	booking   *service.BookingService
	plannings domain.PlanningRepository
	logger    *zerolog.Logger
}

func NewSeeder(booking *service.BookingService, plannings domain.PlanningRepository, logger *zerolog.Logger) *Seeder {
	return &Seeder{booking: booking, plannings: plannings, logger: logger}
}

func (s *Seeder) Apply(ctx context.Context, c *Catalog, now time.Time) (Result, error) {
	var res Result
	for i, raw := range c.Plannings {
		e, err := raw.parse()
		if err != nil {
			return res, fmt.Errorf("planning #%d: %w", i+1, err)
		}

		existing, err := s.plannings.GetPlanningByPrestation(ctx, e.PrestationID)
		if errors.Is(err, database.ErrNotFound) {
			p, err := models.NewPlanning(e.PrestationID, e.Name, e.Description, e.rate, now)
			if err != nil {
				return res, fmt.Errorf("%s: %w", e.PrestationID, err)
			}
			if _, err := s.booking.CreatePlanning(ctx, p, e.from, e.to, e.Capacity); err != nil {
				return res, fmt.Errorf("create %s: %w", e.PrestationID, err)
			}
			res.Created++
			res.SlotsAdded += len(p.Slots)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("get %s: %w", e.PrestationID, err)
		}

		added, err := s.extend(ctx, existing.ID, e)
		if err != nil {
			return res, fmt.Errorf("extend %s: %w", e.PrestationID, err)
		}
		if added > 0 {
			res.Extended++
			res.SlotsAdded += added
		}
	}
	s.logger.Info().
		Int("created", res.Created).
		Int("extended", res.Extended).
		Int("slots_added", res.SlotsAdded).
		Msg("catalog applied")
	return res, nil
}

func (s *Seeder) extend(ctx context.Context, planningID string, e parsedEntry) (int, error) {
	p, err := s.plannings.GetPlanningForRange(ctx, planningID, e.from, e.to)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, d := range models.DatesBetween(e.from, e.to) {
		if p.GetSlotForDate(d) != nil {
			continue
		}
		slots, err := s.booking.AddSlots(ctx, planningID, d, d, e.Capacity)
		if err != nil {
			return added, err
		}
		added += len(slots)
	}
	return added, nil
}
