// Package postgresdb provides a PostgreSQL-based implementation of the storage interface
// for persisting users and their travel stories.
// Every story statement is scoped by the owner's ID.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/patric-chuzhbe/wandernotes/internal/db/storage"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
	"github.com/patric-chuzhbe/wandernotes/internal/user"
)

const uniqueViolationCode = "23505"

const storyColumns = `id, user_id, title, story, visited_location::text, image_url, visited_date, is_favourite, created_on`

// PostgresDB is a PostgreSQL-backed implementation of the storage.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type initOptions struct {
	DBPreReset bool
}

// InitOption defines a functional option for configuring database initialization.
type InitOption func(*initOptions)

// WithDBPreReset drops all tables before migrating. Intended for tests.
func WithDBPreReset(value bool) InitOption {
	return func(options *initOptions) {
		options.DBPreReset = value
	}
}

// New establishes a connection to the PostgreSQL database,
// runs schema migrations, and returns a configured PostgresDB instance.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
	optionsProto ...InitOption,
) (*PostgresDB, error) {
	options := &initOptions{
		DBPreReset: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if options.DBPreReset {
		if err := result.resetDB(ctx); err != nil {
			return nil,
				fmt.Errorf(
					"in internal/db/postgresdb/postgresdb.go/New(): error while `result.resetDB()` calling: %w",
					err,
				)
		}
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.UpContext(ctx, result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.Up()` calling: %w",
				err,
			)
	}

	return result, nil
}

func isUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

// CreateUser inserts a new user and returns its ID.
// A duplicate email is reported as storage.ErrUserExists.
func (db *PostgresDB) CreateUser(ctx context.Context, usr *user.User) (string, error) {
	row := db.database.QueryRowContext(
		ctx,
		`
			INSERT INTO users (full_name, email, password_hash, created_on)
				VALUES ($1, $2, $3, $4)
				RETURNING id
		`,
		usr.FullName,
		usr.Email,
		usr.PasswordHash,
		usr.CreatedOn,
	)
	var userIDFromDB string
	err := row.Scan(&userIDFromDB)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return "", storage.ErrUserExists
		}
		return "", err
	}

	return userIDFromDB, nil
}

func (db *PostgresDB) getUser(ctx context.Context, condition string, arg string) (*user.User, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, full_name, email, password_hash, created_on FROM users WHERE `+condition,
		arg,
	)
	usr := &user.User{}
	err := row.Scan(&usr.ID, &usr.FullName, &usr.Email, &usr.PasswordHash, &usr.CreatedOn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	usr.CreatedOn = usr.CreatedOn.UTC()

	return usr, nil
}

// GetUserByID fetches a user by their UUID.
func (db *PostgresDB) GetUserByID(ctx context.Context, userID string) (*user.User, error) {
	if !isUUID(userID) {
		return nil, storage.ErrNotFound
	}

	return db.getUser(ctx, `id = $1`, userID)
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return db.getUser(ctx, `email = $1`, email)
}

func (db *PostgresDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (db *PostgresDB) GetNumberOfStories(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM travel_stories`)
}

func (db *PostgresDB) count(ctx context.Context, query string) (int64, error) {
	var result int64
	if err := db.database.QueryRowContext(ctx, query).Scan(&result); err != nil {
		return 0, err
	}

	return result, nil
}

// InsertStory stores the story and assigns its ID.
func (db *PostgresDB) InsertStory(ctx context.Context, story *models.Story) error {
	row := db.database.QueryRowContext(
		ctx,
		`
			INSERT INTO travel_stories
				(user_id, title, story, visited_location, image_url, visited_date, is_favourite, created_on)
				VALUES ($1, $2, $3, $4::text::text[], $5, $6, $7, $8)
				RETURNING id
		`,
		story.OwnerID,
		story.Title,
		story.Story,
		pq.Array(story.VisitedLocation),
		story.ImageURL,
		story.VisitedDate,
		story.IsFavourite,
		story.CreatedOn,
	)

	return row.Scan(&story.ID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStory(row scanner) (*models.Story, error) {
	story := &models.Story{}
	var locations pq.StringArray
	err := row.Scan(
		&story.ID,
		&story.OwnerID,
		&story.Title,
		&story.Story,
		&locations,
		&story.ImageURL,
		&story.VisitedDate,
		&story.IsFavourite,
		&story.CreatedOn,
	)
	if err != nil {
		return nil, err
	}
	story.VisitedLocation = []string(locations)
	if story.VisitedLocation == nil {
		story.VisitedLocation = []string{}
	}
	story.VisitedDate = story.VisitedDate.UTC()
	story.CreatedOn = story.CreatedOn.UTC()

	return story, nil
}

// FindOwnedStory is the ownership-scoped lookup of a single story.
func (db *PostgresDB) FindOwnedStory(ctx context.Context, scope models.StoryScope) (*models.Story, error) {
	if !isUUID(scope.ID) || !isUUID(scope.OwnerID) {
		return nil, storage.ErrNotFound
	}

	row := db.database.QueryRowContext(
		ctx,
		`SELECT `+storyColumns+` FROM travel_stories WHERE user_id = $1 AND id = $2`,
		scope.OwnerID,
		scope.ID,
	)
	story, err := scanStory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return story, nil
}

// UpdateOwnedStory overwrites the mutable fields. The owner and the creation time never change.
func (db *PostgresDB) UpdateOwnedStory(ctx context.Context, story *models.Story) error {
	if !isUUID(story.ID) || !isUUID(story.OwnerID) {
		return storage.ErrNotFound
	}

	result, err := db.database.ExecContext(
		ctx,
		`
			UPDATE travel_stories
				SET
					title = $3,
					story = $4,
					visited_location = $5::text::text[],
					image_url = $6,
					visited_date = $7,
					is_favourite = $8
				WHERE user_id = $1 AND id = $2
		`,
		story.OwnerID,
		story.ID,
		story.Title,
		story.Story,
		pq.Array(story.VisitedLocation),
		story.ImageURL,
		story.VisitedDate,
		story.IsFavourite,
	)
	if err != nil {
		return err
	}

	return expectOneRow(result)
}

func (db *PostgresDB) DeleteOwnedStory(ctx context.Context, scope models.StoryScope) error {
	if !isUUID(scope.ID) || !isUUID(scope.OwnerID) {
		return storage.ErrNotFound
	}

	result, err := db.database.ExecContext(
		ctx,
		`DELETE FROM travel_stories WHERE user_id = $1 AND id = $2`,
		scope.OwnerID,
		scope.ID,
	)
	if err != nil {
		return err
	}

	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// escapeLike makes the text match literally inside an ILIKE pattern.
func escapeLike(text string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text)
}

// buildFindStoriesQuery always starts with the owner predicate.
func buildFindStoriesQuery(query models.StoryQuery) (string, []any) {
	args := []any{query.OwnerID}
	conditions := []string{`user_id = $1`}

	if query.Text != "" {
		args = append(args, "%"+escapeLike(query.Text)+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		conditions = append(conditions, fmt.Sprintf(
			`(title ILIKE %[1]s OR story ILIKE %[1]s OR EXISTS (SELECT 1 FROM unnest(visited_location) AS location WHERE location ILIKE %[1]s))`,
			placeholder,
		))
	}
	if query.VisitedFrom != nil {
		args = append(args, *query.VisitedFrom)
		conditions = append(conditions, fmt.Sprintf(`visited_date >= $%d`, len(args)))
	}
	if query.VisitedTo != nil {
		args = append(args, *query.VisitedTo)
		conditions = append(conditions, fmt.Sprintf(`visited_date <= $%d`, len(args)))
	}

	return `SELECT ` + storyColumns + ` FROM travel_stories WHERE ` +
		strings.Join(conditions, ` AND `) +
		` ORDER BY is_favourite DESC, seq ASC`, args
}

// FindStories returns the owner's stories matching the query, favourites first.
func (db *PostgresDB) FindStories(ctx context.Context, query models.StoryQuery) ([]models.Story, error) {
	if !isUUID(query.OwnerID) {
		return []models.Story{}, nil
	}

	sqlQuery, args := buildFindStoriesQuery(query)
	rows, err := db.database.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Story{}
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *story)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Ping verifies connectivity with the PostgreSQL database within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

// Close closes the database connection and releases any associated resources.
func (db *PostgresDB) Close() error {
	return db.database.Close()
}

func (db *PostgresDB) resetDB(ctx context.Context) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			DO $$
			DECLARE
				r RECORD;
			BEGIN
				FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public') LOOP
					EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
				END LOOP;
			END $$;
		`,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}
	return nil
}
