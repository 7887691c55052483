// Package storage declares the persistence contract shared by the
// PostgreSQL, JSON file and in-memory backends.
package storage

import (
	"context"
	"errors"

	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

// ErrNotFound is returned when a user or an owned story does not exist.
// Stories of other owners are reported with the same error.
var ErrNotFound = errors.New("not found")

// ErrUserExists is returned when the email is already registered.
var ErrUserExists = errors.New("user with this email already exists")

type UserKeeper interface {
	// CreateUser stores the user and returns its new ID.
	CreateUser(ctx context.Context, usr *user.User) (string, error)

	GetUserByID(ctx context.Context, userID string) (*user.User, error)

	GetUserByEmail(ctx context.Context, email string) (*user.User, error)

	GetNumberOfUsers(ctx context.Context) (int64, error)
}

type StoryKeeper interface {
	// InsertStory assigns ID and persists the story.
	InsertStory(ctx context.Context, story *models.Story) error

	// FindOwnedStory is the single ownership-scoped lookup.
	FindOwnedStory(ctx context.Context, scope models.StoryScope) (*models.Story, error)

	// UpdateOwnedStory overwrites the mutable fields of the story matched by
	// {story.ID, story.OwnerID}.
	UpdateOwnedStory(ctx context.Context, story *models.Story) error

	DeleteOwnedStory(ctx context.Context, scope models.StoryScope) error

	// FindStories returns the owner's stories matching the query,
	// favourites first, creation order otherwise.
	FindStories(ctx context.Context, query models.StoryQuery) ([]models.Story, error)

	GetNumberOfStories(ctx context.Context) (int64, error)
}

type Storage interface {
	UserKeeper
	StoryKeeper

	Ping(ctx context.Context) error

	Close() error
}
