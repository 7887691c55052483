package jsondb

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/wandernotes/internal/db/storage"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

var t0 = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

func newStory(ownerID, title string, visited time.Time) *models.Story {
	return &models.Story{
		OwnerID:         ownerID,
		Title:           title,
		Story:           "story about " + title,
		VisitedLocation: []string{title + " city"},
		ImageURL:        "http://localhost:8000/uploads/" + title + ".png",
		VisitedDate:     visited,
		CreatedOn:       t0,
	}
}

func TestJSONDBUsers(t *testing.T) {
	theStorage, err := New(filepath.Join(t.TempDir(), "db_test.json"))
	require.NoError(t, err)
	ctx := context.Background()

	userID, err := theStorage.CreateUser(ctx, &user.User{FullName: "Ann", Email: "ann@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.NotEmpty(t, userID)

	_, err = theStorage.CreateUser(ctx, &user.User{FullName: "Other Ann", Email: "ann@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	usr, err := theStorage.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, usr.ID)
	assert.Equal(t, "hash", usr.PasswordHash)

	usr, err = theStorage.GetUserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", usr.FullName)

	_, err = theStorage.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	count, err := theStorage.GetNumberOfUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestJSONDBPersistsAcrossReopen(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "db_test.json")
	ctx := context.Background()

	theStorage, err := New(fileName)
	require.NoError(t, err)
	userID, err := theStorage.CreateUser(ctx, &user.User{FullName: "Ann", Email: "ann@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	story := newStory(userID, "Paris", t0)
	require.NoError(t, theStorage.InsertStory(ctx, story))
	require.NoError(t, theStorage.Close())

	reopened, err := New(fileName)
	require.NoError(t, err)

	usr, err := reopened.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", usr.PasswordHash)

	found, err := reopened.FindOwnedStory(ctx, models.StoryScope{ID: story.ID, OwnerID: userID})
	require.NoError(t, err)
	assert.Equal(t, "Paris", found.Title)
	assert.True(t, t0.Equal(found.VisitedDate))
}

func TestJSONDBOwnedStoryOperations(t *testing.T) {
	theStorage, err := New(filepath.Join(t.TempDir(), "db_test.json"))
	require.NoError(t, err)
	ctx := context.Background()

	story := newStory("owner", "Rome", t0)
	require.NoError(t, theStorage.InsertStory(ctx, story))
	require.NotEmpty(t, story.ID)

	ownScope := models.StoryScope{ID: story.ID, OwnerID: "owner"}
	foreignScope := models.StoryScope{ID: story.ID, OwnerID: "stranger"}

	_, err = theStorage.FindOwnedStory(ctx, foreignScope)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	hijack := story.Clone()
	hijack.OwnerID = "stranger"
	hijack.Title = "Hijacked"
	assert.ErrorIs(t, theStorage.UpdateOwnedStory(ctx, hijack), storage.ErrNotFound)
	assert.ErrorIs(t, theStorage.DeleteOwnedStory(ctx, foreignScope), storage.ErrNotFound)

	found, err := theStorage.FindOwnedStory(ctx, ownScope)
	require.NoError(t, err)
	found.VisitedLocation[0] = "mutated outside"

	again, err := theStorage.FindOwnedStory(ctx, ownScope)
	require.NoError(t, err)
	assert.Equal(t, "Rome city", again.VisitedLocation[0], "returned stories must be copies")

	again.Title = "Roma"
	again.IsFavourite = true
	again.CreatedOn = time.Time{}
	require.NoError(t, theStorage.UpdateOwnedStory(ctx, again))

	updated, err := theStorage.FindOwnedStory(ctx, ownScope)
	require.NoError(t, err)
	assert.Equal(t, "Roma", updated.Title)
	assert.True(t, updated.IsFavourite)
	assert.Equal(t, "owner", updated.OwnerID)
	assert.True(t, t0.Equal(updated.CreatedOn), "creation time is not a mutable field")

	require.NoError(t, theStorage.DeleteOwnedStory(ctx, ownScope))
	_, err = theStorage.FindOwnedStory(ctx, ownScope)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJSONDBFindStories(t *testing.T) {
	theStorage, err := New(filepath.Join(t.TempDir(), "db_test.json"))
	require.NoError(t, err)
	ctx := context.Background()

	paris := newStory("owner", "Paris", t0)
	paris.Story = "Saw the Tower at night"
	berlin := newStory("owner", "Berlin", t0.Add(48*time.Hour))
	lisbon := newStory("owner", "Lisbon", t0.Add(96*time.Hour))
	lisbon.VisitedLocation = []string{"Belem", "Sintra TOWERS"}
	lisbon.IsFavourite = true
	foreign := newStory("stranger", "Tower", t0)
	for _, story := range []*models.Story{paris, berlin, lisbon, foreign} {
		require.NoError(t, theStorage.InsertStory(ctx, story))
	}

	titles := func(stories []models.Story) []string {
		result := []string{}
		for _, story := range stories {
			result = append(result, story.Title)
		}
		return result
	}

	all, err := theStorage.FindStories(ctx, models.StoryQuery{OwnerID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Lisbon", "Paris", "Berlin"}, titles(all))

	found, err := theStorage.FindStories(ctx, models.StoryQuery{OwnerID: "owner", Text: "tower"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Lisbon", "Paris"}, titles(found))

	found, err = theStorage.FindStories(ctx, models.StoryQuery{OwnerID: "owner", Text: "BERL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Berlin"}, titles(found))

	from, to := t0, t0.Add(48*time.Hour)
	found, err = theStorage.FindStories(ctx, models.StoryQuery{OwnerID: "owner", VisitedFrom: &from, VisitedTo: &to})
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris", "Berlin"}, titles(found), "both bounds are inclusive")

	found, err = theStorage.FindStories(ctx, models.StoryQuery{OwnerID: "owner", VisitedFrom: &to, VisitedTo: &from})
	require.NoError(t, err)
	assert.Empty(t, found)

	count, err := theStorage.GetNumberOfStories(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestJSONDBQueriesNeverLeakForeignStories(t *testing.T) {
	theStorage, err := New(filepath.Join(t.TempDir(), "db_test.json"))
	require.NoError(t, err)
	ctx := context.Background()

	rnd := rand.New(rand.NewSource(42))
	owners := []string{"u1", "u2", "u3", "u4"}
	words := []string{"tower", "beach", "river", "castle"}
	for i := 0; i < 200; i++ {
		owner := owners[rnd.Intn(len(owners))]
		story := newStory(owner, fmt.Sprintf("%s-%d", words[rnd.Intn(len(words))], i), t0.Add(time.Duration(rnd.Intn(1000))*time.Hour))
		story.IsFavourite = rnd.Intn(2) == 0
		require.NoError(t, theStorage.InsertStory(ctx, story))
	}

	for _, owner := range owners {
		from := t0.Add(100 * time.Hour)
		to := t0.Add(600 * time.Hour)
		queries := []models.StoryQuery{
			{OwnerID: owner},
			{OwnerID: owner, Text: words[rnd.Intn(len(words))]},
			{OwnerID: owner, VisitedFrom: &from, VisitedTo: &to},
		}
		for _, query := range queries {
			stories, err := theStorage.FindStories(ctx, query)
			require.NoError(t, err)

			seenNonFavourite := false
			for _, story := range stories {
				assert.Equal(t, owner, story.OwnerID)
				if !story.IsFavourite {
					seenNonFavourite = true
				} else {
					assert.False(t, seenNonFavourite, "favourites must come first")
				}
			}
		}
	}
}
