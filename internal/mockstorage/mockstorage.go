// Package mockstorage provides a testify-based mock implementation
// of storage.Storage. It is used for unit testing the service and the
// HTTP handlers by simulating storage behavior.
package mockstorage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/wandernotes/internal/db/storage"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

var _ storage.Storage = (*StorageMock)(nil)

// StorageMock is a testify mock of every storage operation.
type StorageMock struct {
	mock.Mock

	// OnGetNumberOfUsers is an optional function field that can be assigned
	// to define custom mock behavior for GetNumberOfUsers in tests.
	//
	// If set, GetNumberOfUsers will delegate to this function instead of
	// using testify's generic mock handler.
	OnGetNumberOfUsers func(ctx context.Context) (int64, error)

	// OnGetNumberOfStories works like OnGetNumberOfUsers for GetNumberOfStories.
	OnGetNumberOfStories func(ctx context.Context) (int64, error)
}

// Ping mocks the storage health check.
func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *StorageMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// CreateUser mocks user registration and returns the configured ID.
func (m *StorageMock) CreateUser(ctx context.Context, usr *user.User) (string, error) {
	args := m.Called(ctx, usr)
	return args.String(0), args.Error(1)
}

func (m *StorageMock) GetUserByID(ctx context.Context, userID string) (*user.User, error) {
	args := m.Called(ctx, userID)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

func (m *StorageMock) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	args := m.Called(ctx, email)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

// GetNumberOfUsers mocks the users counter.
func (m *StorageMock) GetNumberOfUsers(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfUsers != nil {
		return m.OnGetNumberOfUsers(ctx)
	}
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// InsertStory mocks story creation. Assign the ID with mock.Run when needed.
func (m *StorageMock) InsertStory(ctx context.Context, story *models.Story) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}

func (m *StorageMock) FindOwnedStory(ctx context.Context, scope models.StoryScope) (*models.Story, error) {
	args := m.Called(ctx, scope)
	story, _ := args.Get(0).(*models.Story)
	return story, args.Error(1)
}

func (m *StorageMock) UpdateOwnedStory(ctx context.Context, story *models.Story) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}

func (m *StorageMock) DeleteOwnedStory(ctx context.Context, scope models.StoryScope) error {
	args := m.Called(ctx, scope)
	return args.Error(0)
}

func (m *StorageMock) FindStories(ctx context.Context, query models.StoryQuery) ([]models.Story, error) {
	args := m.Called(ctx, query)
	stories, _ := args.Get(0).([]models.Story)
	return stories, args.Error(1)
}

// GetNumberOfStories mocks the stories counter.
func (m *StorageMock) GetNumberOfStories(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfStories != nil {
		return m.OnGetNumberOfStories(ctx)
	}
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
