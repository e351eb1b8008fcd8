package service

import (
	"errors"
	"fmt"

	"petboarding/internal/models"
)

var (
	ErrRateLimited     = errors.New("service: too many requests")
	ErrNotOwner        = fmt.Errorf("%w: reservation belongs to another user", models.ErrValidation)
	ErrNotHoldingState = fmt.Errorf("%w: reservation no longer holds capacity", models.ErrState)
	ErrPriceLocked     = fmt.Errorf("%w: reservation price is fixed by its payment", models.ErrState)
)
