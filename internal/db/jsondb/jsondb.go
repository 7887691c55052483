// Package jsondb is a storage backend keeping users and stories in memory
// and persisting them as a JSON document on every change.
package jsondb

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/wandernotes/internal/db/storage"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

type JSONDB struct {
	// fileName is empty for a purely in-memory database.
	fileName string
	mu       sync.RWMutex
	Cache    CacheStruct
}

// UserRecord is the persisted form of a user; unlike user.User it keeps the password hash.
type UserRecord struct {
	ID           string    `json:"id"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedOn    time.Time `json:"createdOn"`
}

// CacheStruct is the whole database content. Stories are kept in insertion order.
type CacheStruct struct {
	Users   map[string]*UserRecord
	Stories []*models.Story
}

// NewCache returns an empty database content.
func NewCache() CacheStruct {
	return CacheStruct{
		Users:   map[string]*UserRecord{},
		Stories: []*models.Story{},
	}
}

func New(fileName string) (*JSONDB, error) {
	db := &JSONDB{
		fileName: fileName,
		Cache:    NewCache(),
	}

	err := parseJSONFile(fileName, &db.Cache)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := writeToJSONFile(fileName, db.Cache); err != nil {
			return nil, err
		}
	}
	if db.Cache.Users == nil {
		db.Cache.Users = map[string]*UserRecord{}
	}

	return db, nil
}

func writeToJSONFile(fileName string, cache CacheStruct) error {
	jsonData, err := json.MarshalIndent(cache, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	tmpFileName := fileName + ".tmp"
	if err := os.WriteFile(tmpFileName, jsonData, 0o644); err != nil {
		return fmt.Errorf("error writing to file: %w", err)
	}

	if err := os.Rename(tmpFileName, fileName); err != nil {
		return fmt.Errorf("error replacing file: %w", err)
	}

	return nil
}

func parseJSONFile(fileName string, cache *CacheStruct) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cache)
}

// flush must be called with the write lock held.
func (db *JSONDB) flush() error {
	if db.fileName == "" {
		return nil
	}

	return writeToJSONFile(db.fileName, db.Cache)
}

func (record *UserRecord) toUser() *user.User {
	return &user.User{
		ID:           record.ID,
		FullName:     record.FullName,
		Email:        record.Email,
		PasswordHash: record.PasswordHash,
		CreatedOn:    record.CreatedOn,
	}
}

func (db *JSONDB) CreateUser(_ context.Context, usr *user.User) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, record := range db.Cache.Users {
		if record.Email == usr.Email {
			return "", storage.ErrUserExists
		}
	}

	record := &UserRecord{
		ID:           uuid.New().String(),
		FullName:     usr.FullName,
		Email:        usr.Email,
		PasswordHash: usr.PasswordHash,
		CreatedOn:    usr.CreatedOn,
	}
	db.Cache.Users[record.ID] = record

	if err := db.flush(); err != nil {
		delete(db.Cache.Users, record.ID)
		return "", err
	}

	return record.ID, nil
}

func (db *JSONDB) GetUserByID(_ context.Context, userID string) (*user.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	record, ok := db.Cache.Users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return record.toUser(), nil
}

func (db *JSONDB) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, record := range db.Cache.Users {
		if record.Email == email {
			return record.toUser(), nil
		}
	}

	return nil, storage.ErrNotFound
}

func (db *JSONDB) GetNumberOfUsers(_ context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Users)), nil
}

func (db *JSONDB) InsertStory(_ context.Context, story *models.Story) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	story.ID = uuid.New().String()
	db.Cache.Stories = append(db.Cache.Stories, story.Clone())

	if err := db.flush(); err != nil {
		db.Cache.Stories = db.Cache.Stories[:len(db.Cache.Stories)-1]
		return err
	}

	return nil
}

// ownedStoryIndex is the ownership predicate of every single-story operation.
// It must be called with a lock held.
func (db *JSONDB) ownedStoryIndex(scope models.StoryScope) int {
	return slices.IndexFunc(db.Cache.Stories, func(story *models.Story) bool {
		return story.OwnerID == scope.OwnerID && story.ID == scope.ID
	})
}

func (db *JSONDB) FindOwnedStory(_ context.Context, scope models.StoryScope) (*models.Story, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	idx := db.ownedStoryIndex(scope)
	if idx < 0 {
		return nil, storage.ErrNotFound
	}

	return db.Cache.Stories[idx].Clone(), nil
}

func (db *JSONDB) UpdateOwnedStory(_ context.Context, story *models.Story) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	idx := db.ownedStoryIndex(models.StoryScope{ID: story.ID, OwnerID: story.OwnerID})
	if idx < 0 {
		return storage.ErrNotFound
	}

	previous := db.Cache.Stories[idx]
	updated := previous.Clone()
	updated.Title = story.Title
	updated.Story = story.Story
	updated.VisitedLocation = slices.Clone(story.VisitedLocation)
	updated.ImageURL = story.ImageURL
	updated.VisitedDate = story.VisitedDate
	updated.IsFavourite = story.IsFavourite
	db.Cache.Stories[idx] = updated

	if err := db.flush(); err != nil {
		db.Cache.Stories[idx] = previous
		return err
	}

	return nil
}

func (db *JSONDB) DeleteOwnedStory(_ context.Context, scope models.StoryScope) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	idx := db.ownedStoryIndex(scope)
	if idx < 0 {
		return storage.ErrNotFound
	}

	previous := slices.Clone(db.Cache.Stories)
	db.Cache.Stories = slices.Delete(db.Cache.Stories, idx, idx+1)

	if err := db.flush(); err != nil {
		db.Cache.Stories = previous
		return err
	}

	return nil
}

func (db *JSONDB) FindStories(_ context.Context, query models.StoryQuery) ([]models.Story, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	owned := funk.Filter(db.Cache.Stories, func(story *models.Story) bool {
		return story.OwnerID == query.OwnerID
	}).([]*models.Story)

	needle := strings.ToLower(query.Text)
	result := make([]models.Story, 0, len(owned))
	for _, story := range owned {
		if needle != "" && !containsText(story, needle) {
			continue
		}
		if query.VisitedFrom != nil && story.VisitedDate.Before(*query.VisitedFrom) {
			continue
		}
		if query.VisitedTo != nil && story.VisitedDate.After(*query.VisitedTo) {
			continue
		}
		result = append(result, *story.Clone())
	}

	models.SortFavouritesFirst(result)

	return result, nil
}

func containsText(story *models.Story, needle string) bool {
	if strings.Contains(strings.ToLower(story.Title), needle) ||
		strings.Contains(strings.ToLower(story.Story), needle) {
		return true
	}

	return slices.ContainsFunc(story.VisitedLocation, func(location string) bool {
		return strings.Contains(strings.ToLower(location), needle)
	})
}

func (db *JSONDB) GetNumberOfStories(_ context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Stories)), nil
}

func (db *JSONDB) Ping(_ context.Context) error {
	return nil
}

func (db *JSONDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.flush()
}
