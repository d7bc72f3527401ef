package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/domain/template"
	"github.com/medscribe/soapflow/internal/infrastructure/postgres"
)

type MockModel struct {
	mock.Mock
}

func (m *MockModel) GenerateNote(ctx context.Context, p template.Prompt) (soapnote.Note, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(soapnote.Note), args.Error(1)
}

func (m *MockModel) SuggestCodes(ctx context.Context, transcript string) ([]string, error) {
	args := m.Called(ctx, transcript)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockNoteRepository struct {
	mock.Mock
}

func (m *MockNoteRepository) Save(ctx context.Context, rec *postgres.NoteRecord, events ...*soapnote.Event) error {
	args := m.Called(ctx, rec, events)
	return args.Error(0)
}

func (m *MockNoteRepository) Get(ctx context.Context, userID, id string) (*postgres.NoteRecord, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*postgres.NoteRecord), args.Error(1)
}

type MockCodeRepository struct {
	mock.Mock
}

func (m *MockCodeRepository) TopCodes(ctx context.Context, userID string, limit int) ([]string, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCodeRepository) Increment(ctx context.Context, userID string, codes []string) error {
	args := m.Called(ctx, userID, codes)
	return args.Error(0)
}

type MockCodeRecorder struct {
	mock.Mock
}

func (m *MockCodeRecorder) Record(ctx context.Context, userID string, codes []string) error {
	args := m.Called(ctx, userID, codes)
	return args.Error(0)
}
