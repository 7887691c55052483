package models

import (
	"bytes"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

// Story is a travel journal entry owned by exactly one user.
type Story struct {
	ID              string    `json:"_id"`
	OwnerID         string    `json:"userId"`
	Title           string    `json:"title"`
	Story           string    `json:"story"`
	VisitedLocation []string  `json:"visitedLocation"`
	ImageURL        string    `json:"imageUrl"`
	VisitedDate     time.Time `json:"visitedDate"`
	IsFavourite     bool      `json:"isFavourite"`
	CreatedOn       time.Time `json:"createdOn"`
}

// Clone returns a deep copy of the story.
func (s *Story) Clone() *Story {
	clone := *s
	clone.VisitedLocation = slices.Clone(s.VisitedLocation)

	return &clone
}

// SortFavouritesFirst moves favourite stories in front of the others,
// keeping the relative order inside both groups.
func SortFavouritesFirst(stories []Story) {
	slices.SortStableFunc(stories, func(a, b Story) int {
		switch {
		case a.IsFavourite == b.IsFavourite:
			return 0
		case a.IsFavourite:
			return -1
		default:
			return 1
		}
	})
}

// StoryScope identifies a story on behalf of its owner.
// A story whose OwnerID differs is treated as absent.
type StoryScope struct {
	ID      string
	OwnerID string
}

// StoryQuery selects stories of one owner. Zero-valued optional fields
// do not restrict the result.
type StoryQuery struct {
	OwnerID string

	// Text is matched case-insensitively as a substring of the title,
	// the story or any visited location.
	Text string

	VisitedFrom *time.Time
	VisitedTo   *time.Time
}

// EpochMillis is a point in time transferred as milliseconds since the epoch.
// Both JSON numbers and numeric strings are accepted.
type EpochMillis int64

var ErrMalformedEpochMillis = errors.New("the value is not an epoch milliseconds integer")

// UnmarshalJSON accepts 1700000000000, "1700000000000", null and "".
func (m *EpochMillis) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*m = 0
		return nil
	}

	value, err := ParseEpochMillis(string(data))
	if err != nil {
		return err
	}
	*m = value

	return nil
}

// Time converts the value to UTC time.
func (m EpochMillis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// Representable reports whether the value falls within the years 0 to 9999,
// the range a time.Time can be written to JSON with.
func (m EpochMillis) Representable() bool {
	year := m.Time().Year()
	return year >= 0 && year <= 9999
}

// ParseEpochMillis parses a decimal milliseconds value.
func ParseEpochMillis(value string) (EpochMillis, error) {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, ErrMalformedEpochMillis
	}

	return EpochMillis(parsed), nil
}

// StoryFields are the mutable fields shared by the add and edit requests.
type StoryFields struct {
	Title           string      `json:"title" validate:"required"`
	Story           string      `json:"story" validate:"required"`
	VisitedLocation []string    `json:"visitedLocation" validate:"required,min=1"`
	VisitedDate     EpochMillis `json:"visitedDate" validate:"required"`
}

type AddStoryRequest struct {
	StoryFields
	ImageURL string `json:"imageUrl" validate:"required"`
}

// EditStoryRequest allows an empty ImageURL, which is replaced by the placeholder image.
type EditStoryRequest struct {
	StoryFields
	ImageURL string `json:"imageUrl"`
}

type UpdateIsFavouriteRequest struct {
	IsFavourite *bool `json:"isFavourite" validate:"required"`
}

type CreateAccountRequest struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResult is what a successful registration or login yields.
type AuthResult struct {
	User        user.Summary
	AccessToken string
}

type AuthResponse struct {
	Error       bool         `json:"error"`
	User        user.Summary `json:"user"`
	AccessToken string       `json:"accessToken"`
	Message     string       `json:"message"`
}

type GetUserResponse struct {
	User    *user.User `json:"user"`
	Message string     `json:"message"`
}

type StoryResponse struct {
	Story   *Story `json:"story"`
	Message string `json:"message"`
}

type StoriesResponse struct {
	Stories []Story `json:"stories"`
}

type ImageUploadResponse struct {
	ImageURL string `json:"imageUrl"`
}

type MessageResponse struct {
	Error   bool   `json:"error,omitempty"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

const (
	MessageMalformedGzipBody = "Malformed gzip request body"
	MessageForbidden         = "Forbidden"
)

type InternalStatsResponse struct {
	Users   int64 `json:"users"`
	Stories int64 `json:"stories"`
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

const (
	ImageStorageLocal = "local"
	ImageStorageS3    = "s3"
)

// ImageCleanupJob asks the image cleaner to remove the image of a deleted story.
type ImageCleanupJob struct {
	OwnerID   string
	StoryID   string
	ImageName string
}
