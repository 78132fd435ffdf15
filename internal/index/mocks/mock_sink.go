package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"claimsapi/internal/model"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Put(ctx context.Context, doc model.IndexedDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockSink) Search(ctx context.Context, embedding []float32, k int) ([]model.SearchHit, error) {
	args := m.Called(ctx, embedding, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SearchHit), args.Error(1)
}

func (m *MockSink) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
