// Package service implements the account and travel story operations.
// Every story operation is scoped to the authenticated owner through
// scopedLookup or an owner-scoped store query.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/patric-chuzhbe/wandernotes/internal/auth"
	"github.com/patric-chuzhbe/wandernotes/internal/db/storage"
	"github.com/patric-chuzhbe/wandernotes/internal/imagestore"
	"github.com/patric-chuzhbe/wandernotes/internal/metrics"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type storyStorage interface {
	storage.UserKeeper
	storage.StoryKeeper
	pinger
}

type imageCleaner interface {
	EnqueueJob(job *models.ImageCleanupJob)
}

type tokenBuilder interface {
	BuildJWTString(userID string) (string, error)
}

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("travel story not found")
	ErrConflict        = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrQueryRequired   = errors.New("query is required")
	ErrNoImage         = errors.New("no image uploaded")
	ErrImageURLMissing = errors.New("imageUrl parameter is required")
)

// ValidationError carries a client-facing description of rejected input.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrValidation, e.Cause}
	}
	return []error{ErrValidation}
}

func newValidationError(message string, cause error) error {
	return &ValidationError{Message: message, Cause: cause}
}

const (
	MessageAllFieldsRequired   = "All fields are required"
	MessageCredentialsRequired = "Email and Password are required"
	MessageInvalidDateRange    = "startDate and endDate must be epoch milliseconds"
	MessageInvalidEmail        = "A valid email is required"
	MessageInvalidVisitedDate  = "visitedDate is out of range"
)

// Service holds the dependencies of the account and story operations.
type Service struct {
	db                  storyStorage
	images              imagestore.Store
	imageCleaner        imageCleaner
	tokens              tokenBuilder
	validate            *validator.Validate
	baseURL             string
	placeholderImageURL string
	now                 func() time.Time
}

func New(
	db storyStorage,
	images imagestore.Store,
	imageCleaner imageCleaner,
	tokens tokenBuilder,
	baseURL string,
	placeholderImageURL string,
) *Service {
	return &Service{
		db:                  db,
		images:              images,
		imageCleaner:        imageCleaner,
		tokens:              tokens,
		validate:            validator.New(),
		baseURL:             strings.TrimRight(baseURL, "/"),
		placeholderImageURL: placeholderImageURL,
		now:                 time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) issue(usr *user.User) (*models.AuthResult, error) {
	token, err := s.tokens.BuildJWTString(usr.ID)
	if err != nil {
		return nil, fmt.Errorf("in internal/service/service.go/issue(): error while `s.tokens.BuildJWTString()` calling: %w", err)
	}

	return &models.AuthResult{
		User:        usr.Summary(),
		AccessToken: token,
	}, nil
}

// Register creates a new account and signs the user in.
func (s *Service) Register(ctx context.Context, request models.CreateAccountRequest) (*models.AuthResult, error) {
	request.FullName = strings.TrimSpace(request.FullName)
	request.Email = normalizeEmail(request.Email)

	if err := s.validate.Struct(request); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && validationErrors[0].Tag() == "email" {
			return nil, newValidationError(MessageInvalidEmail, err)
		}
		return nil, newValidationError(MessageAllFieldsRequired, err)
	}

	_, err := s.db.GetUserByEmail(ctx, request.Email)
	if err == nil {
		return nil, ErrConflict
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(request.Password)
	if err != nil {
		return nil, err
	}

	usr := &user.User{
		FullName:     request.FullName,
		Email:        request.Email,
		PasswordHash: hash,
		CreatedOn:    s.now().UTC(),
	}
	usr.ID, err = s.db.CreateUser(ctx, usr)
	if errors.Is(err, storage.ErrUserExists) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	return s.issue(usr)
}

// Login checks the credentials and issues a fresh access token.
func (s *Service) Login(ctx context.Context, request models.LoginRequest) (*models.AuthResult, error) {
	request.Email = normalizeEmail(request.Email)
	if err := s.validate.Struct(request); err != nil {
		return nil, newValidationError(MessageCredentialsRequired, err)
	}

	usr, err := s.db.GetUserByEmail(ctx, request.Email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if !auth.CheckPassword(usr.PasswordHash, request.Password) {
		return nil, ErrInvalidPassword
	}

	return s.issue(usr)
}

// GetUser resolves the authenticated caller. A token of a vanished
// account is reported as ErrUnauthenticated.
func (s *Service) GetUser(ctx context.Context, userID string) (*user.User, error) {
	usr, err := s.db.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}

	return usr, nil
}

func observe(operation string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrQueryRequired):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	metrics.StoryOperations.WithLabelValues(operation, outcome).Inc()
}

// scopedLookup returns the story only when it belongs to the owner.
func (s *Service) scopedLookup(ctx context.Context, scope models.StoryScope) (*models.Story, error) {
	story, err := s.db.FindOwnedStory(ctx, scope)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return story, nil
}

func (s *Service) validateStory(request any, fields models.StoryFields) error {
	if err := s.validate.Struct(request); err != nil {
		return newValidationError(MessageAllFieldsRequired, err)
	}
	if !fields.VisitedDate.Representable() {
		return newValidationError(MessageInvalidVisitedDate, nil)
	}
	return nil
}

// CreateStory stores a new story owned by ownerID.
func (s *Service) CreateStory(ctx context.Context, ownerID string, request models.AddStoryRequest) (story *models.Story, err error) {
	defer func() { observe("create", err) }()

	if err := s.validateStory(request, request.StoryFields); err != nil {
		return nil, err
	}

	story = &models.Story{
		OwnerID:         ownerID,
		Title:           request.Title,
		Story:           request.Story,
		VisitedLocation: request.VisitedLocation,
		ImageURL:        request.ImageURL,
		VisitedDate:     request.VisitedDate.Time(),
		IsFavourite:     false,
		CreatedOn:       s.now().UTC(),
	}
	if err := s.db.InsertStory(ctx, story); err != nil {
		return nil, err
	}

	return story, nil
}

// EditStory overwrites the mutable fields of an owned story.
// An empty imageUrl is replaced with the placeholder image.
func (s *Service) EditStory(ctx context.Context, scope models.StoryScope, request models.EditStoryRequest) (story *models.Story, err error) {
	defer func() { observe("edit", err) }()

	if err := s.validateStory(request, request.StoryFields); err != nil {
		return nil, err
	}

	story, err = s.scopedLookup(ctx, scope)
	if err != nil {
		return nil, err
	}

	imageURL := strings.TrimSpace(request.ImageURL)
	if imageURL == "" {
		imageURL = s.placeholderImageURL
	}

	story.Title = request.Title
	story.Story = request.Story
	story.VisitedLocation = request.VisitedLocation
	story.ImageURL = imageURL
	story.VisitedDate = request.VisitedDate.Time()

	if err := s.updateOwned(ctx, story); err != nil {
		return nil, err
	}

	return story, nil
}

func (s *Service) updateOwned(ctx context.Context, story *models.Story) error {
	err := s.db.UpdateOwnedStory(ctx, story)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// DeleteStory removes an owned story and schedules the removal of its
// uploaded image.
func (s *Service) DeleteStory(ctx context.Context, scope models.StoryScope) (err error) {
	defer func() { observe("delete", err) }()

	story, err := s.scopedLookup(ctx, scope)
	if err != nil {
		return err
	}

	err = s.db.DeleteOwnedStory(ctx, scope)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if imageName, ok := s.uploadedImageName(story.ImageURL); ok {
		s.imageCleaner.EnqueueJob(&models.ImageCleanupJob{
			OwnerID:   story.OwnerID,
			StoryID:   story.ID,
			ImageName: imageName,
		})
	}

	return nil
}

// uploadedImageName returns the stored name of an image uploaded through
// this service. Foreign URLs and the placeholder are never removed.
func (s *Service) uploadedImageName(imageURL string) (string, bool) {
	if imageURL == "" || imageURL == s.placeholderImageURL {
		return "", false
	}
	if !strings.HasPrefix(imageURL, s.uploadsURLPrefix()) {
		return "", false
	}

	name, err := imagestore.NameFromURL(imageURL)
	if err != nil {
		return "", false
	}

	return name, true
}

func (s *Service) uploadsURLPrefix() string {
	return s.baseURL + "/uploads/"
}

// UpdateIsFavourite sets the favourite flag of an owned story.
func (s *Service) UpdateIsFavourite(
	ctx context.Context,
	scope models.StoryScope,
	request models.UpdateIsFavouriteRequest,
) (story *models.Story, err error) {
	defer func() { observe("update_is_favourite", err) }()

	if err := s.validate.Struct(request); err != nil {
		return nil, newValidationError("isFavourite is required", err)
	}

	story, err = s.scopedLookup(ctx, scope)
	if err != nil {
		return nil, err
	}

	story.IsFavourite = *request.IsFavourite
	if err := s.updateOwned(ctx, story); err != nil {
		return nil, err
	}

	return story, nil
}

// ListStories returns all stories of the owner, favourites first.
func (s *Service) ListStories(ctx context.Context, ownerID string) (stories []models.Story, err error) {
	defer func() { observe("list", err) }()

	return s.db.FindStories(ctx, models.StoryQuery{OwnerID: ownerID})
}

// SearchStories matches the query against the title, the story text and
// the visited locations of the owner's stories.
func (s *Service) SearchStories(ctx context.Context, ownerID, query string) (stories []models.Story, err error) {
	defer func() { observe("search", err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrQueryRequired
	}

	return s.db.FindStories(ctx, models.StoryQuery{
		OwnerID: ownerID,
		Text:    query,
	})
}

// FilterStories returns the owner's stories visited within the inclusive
// range. An inverted range yields no stories.
func (s *Service) FilterStories(ctx context.Context, ownerID, startDate, endDate string) (stories []models.Story, err error) {
	defer func() { observe("filter", err) }()

	start, err := models.ParseEpochMillis(strings.TrimSpace(startDate))
	if err != nil {
		return nil, newValidationError(MessageInvalidDateRange, err)
	}
	end, err := models.ParseEpochMillis(strings.TrimSpace(endDate))
	if err != nil {
		return nil, newValidationError(MessageInvalidDateRange, err)
	}

	if start > end {
		return []models.Story{}, nil
	}

	from, to := start.Time(), end.Time()

	return s.db.FindStories(ctx, models.StoryQuery{
		OwnerID:     ownerID,
		VisitedFrom: &from,
		VisitedTo:   &to,
	})
}

// UploadImage stores the content under a fresh name keeping the extension
// of originalName and returns the public URL of the image.
func (s *Service) UploadImage(ctx context.Context, originalName string, content io.Reader) (string, error) {
	if content == nil {
		return "", ErrNoImage
	}

	name := uuid.New().String() + strings.ToLower(path.Ext(strings.ReplaceAll(originalName, `\`, "/")))
	if err := s.images.Save(ctx, name, content); err != nil {
		return "", fmt.Errorf("in internal/service/service.go/UploadImage(): error while `s.images.Save()` calling: %w", err)
	}

	return s.uploadsURLPrefix() + name, nil
}

// DeleteImage removes the image addressed by imageURL and reports whether
// it existed.
func (s *Service) DeleteImage(ctx context.Context, imageURL string) (bool, error) {
	if strings.TrimSpace(imageURL) == "" {
		return false, ErrImageURLMissing
	}

	name, err := imagestore.NameFromURL(imageURL)
	if errors.Is(err, imagestore.ErrInvalidName) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return s.images.Delete(ctx, name)
}

// OpenImage streams a stored image.
func (s *Service) OpenImage(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.images.Open(ctx, name)
}

// Ping checks the health of the storage layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetInternalStats returns the number of users and stories.
func (s *Service) GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error) {
	stories, err := s.db.GetNumberOfStories(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	users, err := s.db.GetNumberOfUsers(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	return models.InternalStatsResponse{
		Users:   users,
		Stories: stories,
	}, nil
}
