package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"claimsapi/internal/model"
	"claimsapi/internal/service"
)

type MockClaimService struct {
	mock.Mock
}

func (m *MockClaimService) ProcessClaim(ctx context.Context, uploads []service.Upload) (*model.ClaimResult, error) {
	args := m.Called(ctx, uploads)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ClaimResult), args.Error(1)
}

func (m *MockClaimService) SearchSimilar(ctx context.Context, query string, k int) ([]model.SearchHit, error) {
	args := m.Called(ctx, query, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SearchHit), args.Error(1)
}

func (m *MockClaimService) ListClaims(ctx context.Context, limit, offset int) (*service.ClaimListResult, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ClaimListResult), args.Error(1)
}

func (m *MockClaimService) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Claim), args.Error(1)
}

func (m *MockClaimService) DeleteClaim(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
