package repository

import (
	"context"

	"claimsapi/internal/model"
)

// ClaimRepository defines data access for processed claims using SQL queries
// only. No business logic here — strictly persistence operations.
type ClaimRepository interface {
	// Create inserts a new claim record and returns the stored row.
	Create(ctx context.Context, c *model.Claim) (*model.Claim, error)

	// FindByID returns a claim by its ID.
	FindByID(ctx context.Context, id string) (*model.Claim, error)

	// List returns a paginated list of claims and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Claim], error)

	// Delete removes a claim by ID. It returns nil if the row was deleted or
	// did not exist.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
