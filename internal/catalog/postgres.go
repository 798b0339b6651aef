package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the clips and phrases tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS clips (
    uuid               TEXT PRIMARY KEY,
    created_on         TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_played        TIMESTAMPTZ NOT NULL DEFAULT now(),
    plays              BIGINT NOT NULL DEFAULT 0,
    speech_detected    TEXT NOT NULL DEFAULT '',
    audio_file         TEXT NOT NULL,
    original_file_name TEXT NOT NULL DEFAULT '',
    title              TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS phrases (
    uuid       TEXT PRIMARY KEY,
    clip_id    TEXT NOT NULL REFERENCES clips(uuid) ON DELETE CASCADE,
    phrase     TEXT NOT NULL,
    created_on TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_phrases_clip ON phrases(clip_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] using the given connection
// or pool. The caller is responsible for calling [PostgresStore.Migrate]
// before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the tables and indexes if they
// do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

const clipColumns = `uuid, created_on, last_played, plays, speech_detected,
       audio_file, original_file_name, title, description`

// ListClips returns all clips ordered by creation time, oldest first.
func (s *PostgresStore) ListClips(ctx context.Context) ([]Clip, error) {
	rows, err := s.db.Query(ctx, `SELECT `+clipColumns+` FROM clips ORDER BY created_on, uuid`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list clips: %w", err)
	}
	defer rows.Close()

	var clips []Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: list clips scan: %w", err)
		}
		clips = append(clips, *clip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list clips: %w", err)
	}
	return clips, nil
}

// ListPhrases returns all phrases ordered by creation time, oldest first.
func (s *PostgresStore) ListPhrases(ctx context.Context) ([]Phrase, error) {
	rows, err := s.db.Query(ctx,
		`SELECT uuid, clip_id, phrase, created_on FROM phrases ORDER BY created_on, uuid`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list phrases: %w", err)
	}
	defer rows.Close()

	var phrases []Phrase
	for rows.Next() {
		p, err := scanPhrase(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: list phrases scan: %w", err)
		}
		phrases = append(phrases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list phrases: %w", err)
	}
	return phrases, nil
}

// GetClip returns the clip with the given id, or ErrNotFound.
func (s *PostgresStore) GetClip(ctx context.Context, id uuid.UUID) (*Clip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+clipColumns+` FROM clips WHERE uuid = $1`, id.String())
	clip, err := scanClip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: get clip %s: %w", id, err)
	}
	return clip, nil
}

// RandomClip returns a uniformly random clip, or ErrNotFound when the catalog
// is empty.
func (s *PostgresStore) RandomClip(ctx context.Context) (*Clip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+clipColumns+` FROM clips ORDER BY random() LIMIT 1`)
	clip, err := scanClip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: random clip: %w", err)
	}
	return clip, nil
}

// MarkPlayed increments the play counter and advances last_played.
func (s *PostgresStore) MarkPlayed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE clips SET plays = plays + 1, last_played = now() WHERE uuid = $1`, id.String())
	if err != nil {
		return fmt.Errorf("catalog: mark played %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LastPlayTime returns the most recent last_played across all clips, or the
// zero time for an empty catalog.
func (s *PostgresStore) LastPlayTime(ctx context.Context) (time.Time, error) {
	var last *time.Time
	err := s.db.QueryRow(ctx, `SELECT max(last_played) FROM clips`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("catalog: last play time: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

// AddClip inserts a new clip and fills in its store-assigned timestamps.
func (s *PostgresStore) AddClip(ctx context.Context, clip *Clip) error {
	if err := clip.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO clips (uuid, speech_detected, audio_file, original_file_name, title, description)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_on, last_played`

	err := s.db.QueryRow(ctx, query,
		clip.ID.String(), clip.SpeechDetected, clip.AudioFile,
		clip.OriginalFileName, clip.Title, clip.Description,
	).Scan(&clip.CreatedOn, &clip.LastPlayed)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("catalog: clip %s already exists", clip.ID)
		}
		return fmt.Errorf("catalog: add clip: %w", err)
	}
	return nil
}

// UpdateClip replaces the mutable metadata of an existing clip.
func (s *PostgresStore) UpdateClip(ctx context.Context, clip *Clip) error {
	if err := clip.Validate(); err != nil {
		return err
	}

	const query = `
		UPDATE clips SET speech_detected = $2, title = $3, description = $4
		WHERE uuid = $1`

	tag, err := s.db.Exec(ctx, query,
		clip.ID.String(), clip.SpeechDetected, clip.Title, clip.Description)
	if err != nil {
		return fmt.Errorf("catalog: update clip %s: %w", clip.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveClip deletes a clip; its phrases cascade.
func (s *PostgresStore) RemoveClip(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM clips WHERE uuid = $1`, id.String()); err != nil {
		return fmt.Errorf("catalog: remove clip %s: %w", id, err)
	}
	return nil
}

// AddPhrase inserts a trigger phrase, normalizing its text first.
func (s *PostgresStore) AddPhrase(ctx context.Context, phrase *Phrase) error {
	phrase.Phrase = NormalizePhrase(phrase.Phrase)
	if phrase.Phrase == "" {
		return errors.New("catalog: phrase text must not be empty")
	}

	const query = `
		INSERT INTO phrases (uuid, clip_id, phrase)
		VALUES ($1,$2,$3)
		RETURNING created_on`

	err := s.db.QueryRow(ctx, query,
		phrase.ID.String(), phrase.ClipID.String(), phrase.Phrase,
	).Scan(&phrase.CreatedOn)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("catalog: phrase %s already exists", phrase.ID)
		}
		return fmt.Errorf("catalog: add phrase: %w", err)
	}
	return nil
}

// PhrasesForClip returns the phrases attached to one clip, oldest first.
func (s *PostgresStore) PhrasesForClip(ctx context.Context, clipID uuid.UUID) ([]Phrase, error) {
	rows, err := s.db.Query(ctx,
		`SELECT uuid, clip_id, phrase, created_on FROM phrases WHERE clip_id = $1 ORDER BY created_on, uuid`,
		clipID.String())
	if err != nil {
		return nil, fmt.Errorf("catalog: phrases for clip %s: %w", clipID, err)
	}
	defer rows.Close()

	var phrases []Phrase
	for rows.Next() {
		p, err := scanPhrase(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: phrases for clip scan: %w", err)
		}
		phrases = append(phrases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: phrases for clip %s: %w", clipID, err)
	}
	return phrases, nil
}

// RemovePhrase deletes a phrase.
func (s *PostgresStore) RemovePhrase(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM phrases WHERE uuid = $1`, id.String()); err != nil {
		return fmt.Errorf("catalog: remove phrase %s: %w", id, err)
	}
	return nil
}

// ---- row scanning -----------------------------------------------------------

func scanClip(row pgx.Row) (*Clip, error) {
	var c Clip
	var idStr string
	if err := row.Scan(
		&idStr, &c.CreatedOn, &c.LastPlayed, &c.Plays, &c.SpeechDetected,
		&c.AudioFile, &c.OriginalFileName, &c.Title, &c.Description,
	); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse clip uuid %q: %w", idStr, err)
	}
	c.ID = id
	return &c, nil
}

func scanPhrase(row pgx.Row) (*Phrase, error) {
	var p Phrase
	var idStr, clipStr string
	if err := row.Scan(&idStr, &clipStr, &p.Phrase, &p.CreatedOn); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse phrase uuid %q: %w", idStr, err)
	}
	clipID, err := uuid.Parse(clipStr)
	if err != nil {
		return nil, fmt.Errorf("parse phrase clip uuid %q: %w", clipStr, err)
	}
	p.ID, p.ClipID = id, clipID
	return &p, nil
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
