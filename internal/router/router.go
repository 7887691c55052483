// Package router exposes the travel journal over HTTP using chi.
package router

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patric-chuzhbe/wandernotes/internal/auth"
	"github.com/patric-chuzhbe/wandernotes/internal/authenticator"
	"github.com/patric-chuzhbe/wandernotes/internal/gzippedhttp"
	"github.com/patric-chuzhbe/wandernotes/internal/imagestore"
	"github.com/patric-chuzhbe/wandernotes/internal/logger"
	"github.com/patric-chuzhbe/wandernotes/internal/metrics"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/service"
	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

type accountService interface {
	Register(ctx context.Context, request models.CreateAccountRequest) (*models.AuthResult, error)
	Login(ctx context.Context, request models.LoginRequest) (*models.AuthResult, error)
	GetUser(ctx context.Context, userID string) (*user.User, error)
}

type storyService interface {
	CreateStory(ctx context.Context, ownerID string, request models.AddStoryRequest) (*models.Story, error)
	EditStory(ctx context.Context, scope models.StoryScope, request models.EditStoryRequest) (*models.Story, error)
	DeleteStory(ctx context.Context, scope models.StoryScope) error
	UpdateIsFavourite(ctx context.Context, scope models.StoryScope, request models.UpdateIsFavouriteRequest) (*models.Story, error)
	ListStories(ctx context.Context, ownerID string) ([]models.Story, error)
	SearchStories(ctx context.Context, ownerID, query string) ([]models.Story, error)
	FilterStories(ctx context.Context, ownerID, startDate, endDate string) ([]models.Story, error)
}

type imageService interface {
	UploadImage(ctx context.Context, originalName string, content io.Reader) (string, error)
	DeleteImage(ctx context.Context, imageURL string) (bool, error)
	OpenImage(ctx context.Context, name string) (io.ReadCloser, error)
}

type operationsService interface {
	Ping(ctx context.Context) error
	GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error)
}

type wanderNotesService interface {
	accountService
	storyService
	imageService
	operationsService
}

type trustedSubnetGuard interface {
	TrustedOnly(h http.Handler) http.Handler
}

// Options tune the HTTP surface.
type Options struct {
	AssetsDir          string
	MaxUploadSize      int64
	AuthRateLimit      int
	CORSAllowedOrigins []string
}

// Router holds the handlers of every endpoint.
type Router struct {
	service       wanderNotesService
	maxUploadSize int64
}

const multipartMemory = 8 << 20

// New builds the chi mux with the middleware stack and every route.
func New(
	theService wanderNotesService,
	theAuth authenticator.Authenticator,
	trustedSubnet trustedSubnetGuard,
	options Options,
) *chi.Mux {
	myRouter := &Router{
		service:       theService,
		maxUploadSize: options.MaxUploadSize,
	}

	router := chi.NewRouter()
	router.Use(
		logger.WithLoggingHTTPMiddleware,
		metrics.WithHTTPMetrics,
		cors.Handler(cors.Options{
			AllowedOrigins: options.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Content-Encoding", "Accept-Encoding"},
			MaxAge:         300,
		}),
		gzippedhttp.UngzipRequest,
		gzippedhttp.GzipResponse,
	)

	router.Group(func(r chi.Router) {
		if options.AuthRateLimit > 0 {
			r.Use(httprate.Limit(
				options.AuthRateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(response http.ResponseWriter, _ *http.Request) {
					writeError(response, http.StatusTooManyRequests, "Too many requests")
				}),
			))
		}
		r.Post(`/create-account`, myRouter.PostCreateaccount)
		r.Post(`/login`, myRouter.PostLogin)
	})

	router.Group(func(r chi.Router) {
		r.Use(theAuth.AuthenticateUser)
		r.Get(`/get-user`, myRouter.GetGetuser)
		r.Post(`/add-travel-story`, myRouter.PostAddtravelstory)
		r.Get(`/get-all-stories`, myRouter.GetGetallstories)
		r.Put(`/edit-story/{id}`, myRouter.PutEditstory)
		r.Delete(`/delete-travel-story/{id}`, myRouter.DeleteDeletetravelstory)
		r.Put(`/update-is-favourite/{id}`, myRouter.PutUpdateisfavourite)
		r.Get(`/search`, myRouter.GetSearch)
		r.Get(`/travel-stories/filter`, myRouter.GetTravelstoriesFilter)
	})

	router.Post(`/image-upload`, myRouter.PostImageupload)
	router.Delete(`/delete-image`, myRouter.DeleteDeleteimage)
	router.Get(`/uploads/*`, myRouter.GetUploads)
	if options.AssetsDir != "" {
		router.Handle(`/assets/*`, http.StripPrefix("/assets/", http.FileServer(http.Dir(options.AssetsDir))))
	}

	router.Get(`/ping`, myRouter.GetPing)
	router.With(trustedSubnet.TrustedOnly).Get(`/internal/stats`, myRouter.GetInternalStats)
	router.Handle(`/metrics`, promhttp.Handler())

	return router
}

// writeJSON encodes the payload before the status is sent, so an encoding
// failure still reaches the client as a 500.
func writeJSON(response http.ResponseWriter, statusCode int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Errorw("error while encoding the response", "err", err)
		statusCode = http.StatusInternalServerError
		body, _ = json.Marshal(models.ErrorResponse{
			Error:   true,
			Message: http.StatusText(http.StatusInternalServerError),
		})
	}
	body = append(body, '\n')

	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(statusCode)
	if _, err := response.Write(body); err != nil {
		logger.Log.Debugw("error while writing the response", "err", err)
	}
}

func writeError(response http.ResponseWriter, statusCode int, message string) {
	writeJSON(response, statusCode, models.ErrorResponse{
		Error:   true,
		Message: message,
	})
}

// writeServiceError is the single place where service errors become statuses.
func writeServiceError(response http.ResponseWriter, request *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(response, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, service.ErrConflict):
		writeError(response, http.StatusBadRequest, "User already exists")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(response, http.StatusBadRequest, "User not found")
	case errors.Is(err, service.ErrInvalidPassword):
		writeError(response, http.StatusUnauthorized, "Invalid password")
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(response, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, service.ErrNotFound):
		writeError(response, http.StatusNotFound, "Travel story not found")
	case errors.Is(err, service.ErrQueryRequired):
		writeError(response, http.StatusNotFound, "query is required")
	case errors.Is(err, service.ErrNoImage):
		writeError(response, http.StatusBadRequest, "No image uploaded")
	case errors.Is(err, service.ErrImageURLMissing):
		writeError(response, http.StatusBadRequest, "imageUrl parameter is required")
	default:
		logger.Log.Errorw("request failed", "uri", request.RequestURI, "err", err)
		writeError(response, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody reads a JSON payload. An empty body decodes to the zero value
// so that the validation reports the missing fields.
func decodeBody(request *http.Request, payload any) error {
	err := json.NewDecoder(request.Body).Decode(payload)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func callerID(response http.ResponseWriter, request *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(request.Context())
	if !ok {
		writeError(response, http.StatusUnauthorized, "Unauthorized")
	}
	return userID, ok
}

func storyScope(request *http.Request, ownerID string) models.StoryScope {
	return models.StoryScope{
		ID:      chi.URLParam(request, "id"),
		OwnerID: ownerID,
	}
}

func (router *Router) PostCreateaccount(response http.ResponseWriter, request *http.Request) {
	var payload models.CreateAccountRequest
	if err := decodeBody(request, &payload); err != nil {
		writeError(response, http.StatusBadRequest, "Malformed request body")
		return
	}

	result, err := router.service.Register(request.Context(), payload)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusCreated, models.AuthResponse{
		Error:       false,
		User:        result.User,
		AccessToken: result.AccessToken,
		Message:     "Registration successful",
	})
}

func (router *Router) PostLogin(response http.ResponseWriter, request *http.Request) {
	var payload models.LoginRequest
	if err := decodeBody(request, &payload); err != nil {
		writeError(response, http.StatusBadRequest, "Malformed request body")
		return
	}

	result, err := router.service.Login(request.Context(), payload)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, models.AuthResponse{
		Error:       false,
		User:        result.User,
		AccessToken: result.AccessToken,
		Message:     "Login successful",
	})
}

func (router *Router) GetGetuser(response http.ResponseWriter, request *http.Request) {
	userID, ok := callerID(response, request)
	if !ok {
		return
	}

	usr, err := router.service.GetUser(request.Context(), userID)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, models.GetUserResponse{
		User:    usr,
		Message: "",
	})
}

func (router *Router) PostAddtravelstory(response http.ResponseWriter, request *http.Request) {
	userID, ok := callerID(response, request)
	if !ok {
		return
	}

	var payload models.AddStoryRequest
	if err := decodeBody(request, &payload); err != nil {
		writeError(response, http.StatusBadRequest, "Malformed request body")
		return
	}

	story, err := router.service.CreateStory(request.Context(), userID, payload)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusCreated, models.StoryResponse{
		Story:   story,
		Message: "Added Successfully",
	})
}

func (router *Router) GetGetallstories(response http.ResponseWriter, request *http.Request) {
	userID, ok := callerID(response, request)
	if !ok {
		return
	}

	stories, err := router.service.ListStories(request.Context(), userID)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, models.StoriesResponse{Stories: stories})
}

func (router *Router) PutEditstory(response http.ResponseWriter, request *http.Request) {
	userID, ok := callerID(response, request)
	if !ok {
		return
	}

	var payload models.EditStoryRequest
	if err := decodeBody(request, &payload); err != nil {
		writeError(response, http.StatusBadRequest, "Malformed request body")
		return
	}

	story, err := router.service.EditStory(request.Context(), storyScope(request, userID), payload)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, models.StoryResponse{
		Story:   story,
		Message: "Update Successful",
	})
}

func (router *Router) DeleteDeletetravelstory(response http.ResponseWriter, request *http.Request) {
	userID, ok := callerID(response, request)
	if !ok {
		return
	}

	if err := router.service.DeleteStory(request.Context(), storyScope(request, userID)); err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, models.MessageResponse{
		Message: "Travel story deleted successfully",
	})
}

func (router *Router) PutUpdateisfavourite(response http.ResponseWriter, request *http.Request) {
	userID, ok := callerID(response, request)
	if !ok {
		return
	}

	var payload models.UpdateIsFavouriteRequest
	if err := decodeBody(request, &payload); err != nil {
		writeError(response, http.StatusBadRequest, "Malformed request body")
		return
	}

	story, err := router.service.UpdateIsFavourite(request.Context(), storyScope(request, userID), payload)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, models.StoryResponse{
		Story:   story,
		Message: "Update Successful",
	})
}

func (router *Router) GetSearch(response http.ResponseWriter, request *http.Request) {
	userID, ok := callerID(response, request)
	if !ok {
		return
	}

	stories, err := router.service.SearchStories(request.Context(), userID, request.URL.Query().Get("query"))
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, models.StoriesResponse{Stories: stories})
}

func (router *Router) GetTravelstoriesFilter(response http.ResponseWriter, request *http.Request) {
	userID, ok := callerID(response, request)
	if !ok {
		return
	}

	query := request.URL.Query()
	stories, err := router.service.FilterStories(
		request.Context(),
		userID,
		query.Get("startDate"),
		query.Get("endDate"),
	)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, models.StoriesResponse{Stories: stories})
}

func (router *Router) PostImageupload(response http.ResponseWriter, request *http.Request) {
	if router.maxUploadSize > 0 {
		request.Body = http.MaxBytesReader(response, request.Body, router.maxUploadSize)
	}

	if err := request.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(response, http.StatusRequestEntityTooLarge, "Image is too large")
			return
		}
		writeServiceError(response, request, service.ErrNoImage)
		return
	}
	defer request.MultipartForm.RemoveAll()

	file, header, err := request.FormFile("image")
	if err != nil {
		writeServiceError(response, request, service.ErrNoImage)
		return
	}
	defer file.Close()

	imageURL, err := router.service.UploadImage(request.Context(), header.Filename, file)
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusCreated, models.ImageUploadResponse{ImageURL: imageURL})
}

func (router *Router) DeleteDeleteimage(response http.ResponseWriter, request *http.Request) {
	existed, err := router.service.DeleteImage(request.Context(), request.URL.Query().Get("imageUrl"))
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	if !existed {
		writeJSON(response, http.StatusOK, models.MessageResponse{
			Error:   true,
			Message: "Image not found",
		})
		return
	}

	writeJSON(response, http.StatusOK, models.MessageResponse{
		Message: "Image deleted successfully",
	})
}

func (router *Router) GetUploads(response http.ResponseWriter, request *http.Request) {
	name, err := imagestore.CleanName(chi.URLParam(request, "*"))
	if err != nil {
		writeError(response, http.StatusNotFound, "Image not found")
		return
	}

	image, err := router.service.OpenImage(request.Context(), name)
	if errors.Is(err, imagestore.ErrNotExist) || errors.Is(err, imagestore.ErrInvalidName) {
		writeError(response, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		writeServiceError(response, request, err)
		return
	}
	defer image.Close()

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	response.Header().Set("Content-Type", contentType)
	response.Header().Set("X-Content-Type-Options", "nosniff")
	if !isInlineImage(contentType) {
		response.Header().Set("Content-Disposition", "attachment")
	}
	response.WriteHeader(http.StatusOK)

	if _, err := io.Copy(response, image); err != nil {
		logger.Log.Debugw("error while streaming the image", "name", name, "err", err)
	}
}

// isInlineImage reports whether an upload may be rendered by the browser.
// SVG is scriptable and is downloaded like any other non-image file.
func isInlineImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}

func (router *Router) GetPing(response http.ResponseWriter, request *http.Request) {
	if err := router.service.Ping(request.Context()); err != nil {
		logger.Log.Errorw("storage ping failed", "err", err)
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	response.WriteHeader(http.StatusOK)
}

func (router *Router) GetInternalStats(response http.ResponseWriter, request *http.Request) {
	stats, err := router.service.GetInternalStats(request.Context())
	if err != nil {
		writeServiceError(response, request, err)
		return
	}

	writeJSON(response, http.StatusOK, stats)
}
