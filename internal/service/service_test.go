package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/wandernotes/internal/auth"
	"github.com/patric-chuzhbe/wandernotes/internal/db/memorystorage"
	"github.com/patric-chuzhbe/wandernotes/internal/db/storage"
	"github.com/patric-chuzhbe/wandernotes/internal/imagestore"
	"github.com/patric-chuzhbe/wandernotes/internal/mockstorage"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

const (
	testBaseURL     = "http://localhost:8000"
	testPlaceholder = testBaseURL + "/assets/placeholder.png"
)

type recordingCleaner struct {
	mu   sync.Mutex
	jobs []*models.ImageCleanupJob
}

func (c *recordingCleaner) EnqueueJob(job *models.ImageCleanupJob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
}

type fixture struct {
	service *Service
	auth    *auth.Auth
	cleaner *recordingCleaner
	images  *imagestore.Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := memorystorage.New()
	require.NoError(t, err)

	images, err := imagestore.NewLocal(t.TempDir())
	require.NoError(t, err)

	theAuth := auth.New([]byte("service-test-signing-secret"), 72*time.Hour)
	cleaner := &recordingCleaner{}

	return &fixture{
		service: New(db, images, cleaner, theAuth, testBaseURL+"/", testPlaceholder),
		auth:    theAuth,
		cleaner: cleaner,
		images:  images,
	}
}

func (f *fixture) register(t *testing.T, email string) string {
	t.Helper()

	result, err := f.service.Register(context.Background(), models.CreateAccountRequest{
		FullName: "Test User",
		Email:    email,
		Password: "secret-password",
	})
	require.NoError(t, err)

	userID, err := f.auth.GetUserIDFromToken(result.AccessToken)
	require.NoError(t, err)

	return userID
}

func newAddStoryRequest(title string, visitedDate int64) models.AddStoryRequest {
	return models.AddStoryRequest{
		StoryFields: models.StoryFields{
			Title:           title,
			Story:           "A story about " + title,
			VisitedLocation: []string{"Paris", "Lyon"},
			VisitedDate:     models.EpochMillis(visitedDate),
		},
		ImageURL: testBaseURL + "/uploads/" + strings.ToLower(strings.ReplaceAll(title, " ", "-")) + ".png",
	}
}

func (f *fixture) addStory(t *testing.T, ownerID, title string, visitedDate int64) *models.Story {
	t.Helper()

	story, err := f.service.CreateStory(context.Background(), ownerID, newAddStoryRequest(title, visitedDate))
	require.NoError(t, err)

	return story
}

func titles(stories []models.Story) []string {
	result := make([]string, 0, len(stories))
	for _, story := range stories {
		result = append(result, story.Title)
	}
	return result
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered, err := f.service.Register(ctx, models.CreateAccountRequest{
		FullName: " Ann Traveller ",
		Email:    "Ann@Example.com",
		Password: "pa55word",
	})
	require.NoError(t, err)
	assert.Equal(t, user.Summary{FullName: "Ann Traveller", Email: "ann@example.com"}, registered.User)

	loggedIn, err := f.service.Login(ctx, models.LoginRequest{Email: "ann@example.com", Password: "pa55word"})
	require.NoError(t, err)
	assert.Equal(t, registered.User, loggedIn.User)

	registeredID, err := f.auth.GetUserIDFromToken(registered.AccessToken)
	require.NoError(t, err)
	loggedInID, err := f.auth.GetUserIDFromToken(loggedIn.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registeredID, loggedInID)

	usr, err := f.service.GetUser(ctx, loggedInID)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", usr.Email)
	assert.NotEqual(t, "pa55word", usr.PasswordHash)
}

func TestRegisterRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "taken@example.com")

	testCases := []struct {
		name        string
		request     models.CreateAccountRequest
		expectedErr error
		message     string
	}{
		{
			name:        "duplicate_email",
			request:     models.CreateAccountRequest{FullName: "Other", Email: "TAKEN@example.com", Password: "x"},
			expectedErr: ErrConflict,
		},
		{
			name:        "missing_full_name",
			request:     models.CreateAccountRequest{Email: "a@example.com", Password: "x"},
			expectedErr: ErrValidation,
			message:     MessageAllFieldsRequired,
		},
		{
			name:        "missing_password",
			request:     models.CreateAccountRequest{FullName: "A", Email: "a@example.com"},
			expectedErr: ErrValidation,
			message:     MessageAllFieldsRequired,
		},
		{
			name:        "malformed_email",
			request:     models.CreateAccountRequest{FullName: "A", Email: "not-an-email", Password: "x"},
			expectedErr: ErrValidation,
			message:     MessageInvalidEmail,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := f.service.Register(ctx, testCase.request)
			require.ErrorIs(t, err, testCase.expectedErr)

			if testCase.message != "" {
				var validationErr *ValidationError
				require.True(t, errors.As(err, &validationErr))
				assert.Equal(t, testCase.message, validationErr.Message)
			}
		})
	}
}

func TestLoginRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "known@example.com")

	_, err := f.service.Login(ctx, models.LoginRequest{Email: "known@example.com"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.Login(ctx, models.LoginRequest{Email: "unknown@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.service.Login(ctx, models.LoginRequest{Email: "known@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestGetUserOfVanishedAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetUser(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCreateStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := f.register(t, "owner@example.com")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return now }

	story := f.addStory(t, ownerID, "Eiffel Tower", 1700000000000)
	assert.NotEmpty(t, story.ID)
	assert.Equal(t, ownerID, story.OwnerID)
	assert.False(t, story.IsFavourite)
	assert.Equal(t, now, story.CreatedOn)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), story.VisitedDate)

	missing := []func(request *models.AddStoryRequest){
		func(request *models.AddStoryRequest) { request.Title = "" },
		func(request *models.AddStoryRequest) { request.Story = "" },
		func(request *models.AddStoryRequest) { request.VisitedLocation = nil },
		func(request *models.AddStoryRequest) { request.VisitedLocation = []string{} },
		func(request *models.AddStoryRequest) { request.ImageURL = "" },
		func(request *models.AddStoryRequest) { request.VisitedDate = 0 },
	}
	for _, spoil := range missing {
		request := newAddStoryRequest("Broken", 1700000000000)
		spoil(&request)
		_, err := f.service.CreateStory(ctx, ownerID, request)
		assert.ErrorIs(t, err, ErrValidation)
	}

	stories, err := f.service.ListStories(ctx, ownerID)
	require.NoError(t, err)
	assert.Len(t, stories, 1)
}

func TestEditStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := f.register(t, "owner@example.com")
	strangerID := f.register(t, "stranger@example.com")
	story := f.addStory(t, ownerID, "Rome", 1700000000000)

	request := models.EditStoryRequest{
		StoryFields: models.StoryFields{
			Title:           "Rome again",
			Story:           "Second visit",
			VisitedLocation: []string{"Rome"},
			VisitedDate:     1710000000000,
		},
	}

	_, err := f.service.EditStory(ctx, models.StoryScope{ID: story.ID, OwnerID: strangerID}, request)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.EditStory(ctx, models.StoryScope{ID: "missing", OwnerID: ownerID}, request)
	assert.ErrorIs(t, err, ErrNotFound)

	edited, err := f.service.EditStory(ctx, models.StoryScope{ID: story.ID, OwnerID: ownerID}, request)
	require.NoError(t, err)
	assert.Equal(t, testPlaceholder, edited.ImageURL)
	assert.Equal(t, "Rome again", edited.Title)
	assert.Equal(t, ownerID, edited.OwnerID)
	assert.Equal(t, story.CreatedOn, edited.CreatedOn)

	stories, err := f.service.ListStories(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, testPlaceholder, stories[0].ImageURL)
	assert.Equal(t, []string{"Rome"}, stories[0].VisitedLocation)

	request.Title = ""
	_, err = f.service.EditStory(ctx, models.StoryScope{ID: story.ID, OwnerID: ownerID}, request)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := f.register(t, "owner@example.com")
	strangerID := f.register(t, "stranger@example.com")
	story := f.addStory(t, ownerID, "Kyoto", 1700000000000)
	foreign := f.addStory(t, ownerID, "Osaka", 1700000000000)
	foreign.ImageURL = "https://elsewhere.example.com/uploads/osaka.png"
	_, err := f.service.EditStory(ctx, models.StoryScope{ID: foreign.ID, OwnerID: ownerID}, models.EditStoryRequest{
		StoryFields: models.StoryFields{
			Title:           foreign.Title,
			Story:           foreign.Story,
			VisitedLocation: foreign.VisitedLocation,
			VisitedDate:     1700000000000,
		},
		ImageURL: foreign.ImageURL,
	})
	require.NoError(t, err)

	err = f.service.DeleteStory(ctx, models.StoryScope{ID: story.ID, OwnerID: strangerID})
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.service.DeleteStory(ctx, models.StoryScope{ID: "absent", OwnerID: ownerID})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.service.DeleteStory(ctx, models.StoryScope{ID: story.ID, OwnerID: ownerID}))
	require.NoError(t, f.service.DeleteStory(ctx, models.StoryScope{ID: foreign.ID, OwnerID: ownerID}))

	stories, err := f.service.ListStories(ctx, ownerID)
	require.NoError(t, err)
	assert.Empty(t, stories)

	require.Len(t, f.cleaner.jobs, 1)
	assert.Equal(t, &models.ImageCleanupJob{OwnerID: ownerID, StoryID: story.ID, ImageName: "kyoto.png"}, f.cleaner.jobs[0])

	err = f.service.DeleteStory(ctx, models.StoryScope{ID: story.ID, OwnerID: ownerID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateIsFavouriteTwiceRestores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := f.register(t, "owner@example.com")
	story := f.addStory(t, ownerID, "Oslo", 1700000000000)
	scope := models.StoryScope{ID: story.ID, OwnerID: ownerID}

	original := story.IsFavourite
	toggled, err := f.service.UpdateIsFavourite(ctx, scope, models.UpdateIsFavouriteRequest{IsFavourite: ptr(!original)})
	require.NoError(t, err)
	assert.Equal(t, !original, toggled.IsFavourite)

	restored, err := f.service.UpdateIsFavourite(ctx, scope, models.UpdateIsFavouriteRequest{IsFavourite: ptr(original)})
	require.NoError(t, err)
	assert.Equal(t, original, restored.IsFavourite)

	_, err = f.service.UpdateIsFavourite(ctx, scope, models.UpdateIsFavouriteRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	strangerID := f.register(t, "stranger@example.com")
	_, err = f.service.UpdateIsFavourite(
		ctx,
		models.StoryScope{ID: story.ID, OwnerID: strangerID},
		models.UpdateIsFavouriteRequest{IsFavourite: ptr(true)},
	)
	assert.ErrorIs(t, err, ErrNotFound)
}

func ptr[T any](value T) *T {
	return &value
}

func TestListSearchFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := f.register(t, "owner@example.com")
	strangerID := f.register(t, "stranger@example.com")

	f.addStory(t, ownerID, "Morning market", 1000)
	tower := f.addStory(t, ownerID, "Eiffel Tower at night", 2000)
	f.addStory(t, ownerID, "Beach day", 3000)
	f.addStory(t, strangerID, "Tower of London", 2500)

	_, err := f.service.UpdateIsFavourite(
		ctx,
		models.StoryScope{ID: tower.ID, OwnerID: ownerID},
		models.UpdateIsFavouriteRequest{IsFavourite: ptr(true)},
	)
	require.NoError(t, err)

	stories, err := f.service.ListStories(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Eiffel Tower at night", "Morning market", "Beach day"}, titles(stories))

	stories, err = f.service.SearchStories(ctx, ownerID, "tower")
	require.NoError(t, err)
	assert.Equal(t, []string{"Eiffel Tower at night"}, titles(stories))

	stories, err = f.service.SearchStories(ctx, strangerID, "eiffel")
	require.NoError(t, err)
	assert.Empty(t, stories)

	stories, err = f.service.SearchStories(ctx, ownerID, "LYON")
	require.NoError(t, err)
	assert.Len(t, stories, 3)

	_, err = f.service.SearchStories(ctx, ownerID, "   ")
	assert.ErrorIs(t, err, ErrQueryRequired)

	stories, err = f.service.FilterStories(ctx, ownerID, "1000", "2000")
	require.NoError(t, err)
	assert.Equal(t, []string{"Eiffel Tower at night", "Morning market"}, titles(stories))

	stories, err = f.service.FilterStories(ctx, ownerID, "3000", "1000")
	require.NoError(t, err)
	assert.NotNil(t, stories)
	assert.Empty(t, stories)

	_, err = f.service.FilterStories(ctx, ownerID, "yesterday", "1000")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.FilterStories(ctx, ownerID, "", "1000")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUploadAndDeleteImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imageURL, err := f.service.UploadImage(ctx, `C:\photos\Sunset.JPG`, strings.NewReader("jpeg bytes"))
	require.NoError(t, err)
	assert.Regexp(t, `^http://localhost:8000/uploads/[0-9a-f-]{36}\.jpg$`, imageURL)

	name, err := imagestore.NameFromURL(imageURL)
	require.NoError(t, err)
	reader, err := f.service.OpenImage(ctx, name)
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	existed, err := f.service.DeleteImage(ctx, imageURL)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = f.service.DeleteImage(ctx, imageURL)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = f.service.DeleteImage(ctx, "")
	assert.ErrorIs(t, err, ErrImageURLMissing)

	_, err = f.service.UploadImage(ctx, "a.png", nil)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestStorageFailuresPassThrough(t *testing.T) {
	storageErr := errors.New("connection reset")
	db := &mockstorage.StorageMock{}
	db.On("FindOwnedStory", mock.Anything, mock.Anything).Return(nil, storageErr)
	db.On("FindStories", mock.Anything, mock.Anything).Return(nil, storageErr)
	db.On("Ping", mock.Anything).Return(nil)
	db.On("GetNumberOfUsers", mock.Anything).Return(int64(3), nil)
	db.On("GetNumberOfStories", mock.Anything).Return(int64(7), nil)

	s := New(db, nil, &recordingCleaner{}, auth.New([]byte("another-test-signing-secret"), time.Hour), testBaseURL, testPlaceholder)
	ctx := context.Background()

	err := s.DeleteStory(ctx, models.StoryScope{ID: "id", OwnerID: "owner"})
	assert.ErrorIs(t, err, storageErr)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = s.ListStories(ctx, "owner")
	assert.ErrorIs(t, err, storageErr)

	assert.NoError(t, s.Ping(ctx))

	stats, err := s.GetInternalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.InternalStatsResponse{Users: 3, Stories: 7}, stats)

	db.AssertExpectations(t)
}

func TestRegisterRaceReportsConflict(t *testing.T) {
	db := &mockstorage.StorageMock{}
	db.On("GetUserByEmail", mock.Anything, "racer@example.com").Return(nil, storage.ErrNotFound)
	db.On("CreateUser", mock.Anything, mock.AnythingOfType("*user.User")).Return("", storage.ErrUserExists)

	s := New(db, nil, &recordingCleaner{}, auth.New([]byte("another-test-signing-secret"), time.Hour), testBaseURL, testPlaceholder)

	_, err := s.Register(context.Background(), models.CreateAccountRequest{
		FullName: "Racer",
		Email:    "racer@example.com",
		Password: "x",
	})
	assert.ErrorIs(t, err, ErrConflict)
	db.AssertExpectations(t)
}
