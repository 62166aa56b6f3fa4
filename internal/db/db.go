// Package db stores the stand-in application's state in an encrypted
// SQLCipher database: the TMDB key, added Plex servers and their libraries,
// and the owned and missing movies each library search found.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxOpenConns is the maximum number of open connections.
	// SQLite is single-writer, so high connection counts are counterproductive.
	MaxOpenConns = 4

	// MaxIdleConns keeps at least one connection alive so a shared-cache
	// in-memory database is not dropped between queries.
	MaxIdleConns = 1

	// KeySize is the SQLCipher key length in bytes.
	KeySize = 32

	settingTMDBKey = "tmdb_key"
)

var (
	// ErrNotFound is returned when a server or library does not exist.
	ErrNotFound = errors.New("db: not found")

	// ErrServerExists is returned when a server with the same machine id was already added.
	ErrServerExists = errors.New("db: plex server already added")
)

// Server is an added Plex server and its movie libraries.
type Server struct {
	MachineID    string
	FriendlyName string
	Address      string
	Port         int
	PlexToken    string
	Libraries    []Library
}

// Library is one movie library of a server.
type Library struct {
	MachineID  string
	Key        int
	Title      string
	SearchedAt time.Time // zero until searched
}

// Searched reports whether the library has been searched for owned movies.
func (l Library) Searched() bool {
	return !l.SearchedAt.IsZero()
}

// Movie is a movie found by a library search. Missing movies belong to a
// collection the library owns part of, but are not in the library.
type Movie struct {
	Title     string
	Year      int
	PosterKey string
	Missing   bool
}

// Store wraps the sql.DB connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the encrypted store at path. An empty
// path opens a private in-memory database. key must be KeySize bytes.
func Open(path string, key []byte) (*Store, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("database key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	keyHex := hex.EncodeToString(key)

	var dsn string
	if path == "" {
		dsn = fmt.Sprintf("file:gaps-%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096", uuid.NewString(), keyHex)
		dsn = appendSQLiteParams(dsn, "_foreign_keys=on")
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, keyHex)
		dsn = appendSQLiteParams(dsn, sqliteCommonParams())
	}

	db, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxIdleConns)

	var sqliteVersion string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying sql.DB for direct access when needed.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the store.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Nuke deletes all application state.
func (s *Store) Nuke(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"movies", "libraries", "plex_servers", "settings"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// SetTMDBKey saves the TMDB API key.
func (s *Store) SetTMDBKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		settingTMDBKey, key, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save tmdb key: %w", err)
	}
	return nil
}

// TMDBKey returns the saved TMDB key, or "" when none is saved.
func (s *Store) TMDBKey(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, settingTMDBKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read tmdb key: %w", err)
	}
	return value, nil
}

// AddServer adds a Plex server with its libraries. Libraries start unsearched.
func (s *Store) AddServer(ctx context.Context, server Server) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM plex_servers WHERE machine_id = ?`, server.MachineID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check server: %w", err)
		}
		if exists > 0 {
			return ErrServerExists
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO plex_servers (machine_id, friendly_name, address, port, plex_token, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			server.MachineID, server.FriendlyName, server.Address, server.Port, server.PlexToken, time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert server %s: %w", server.MachineID, err)
		}
		for _, lib := range server.Libraries {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO libraries (machine_id, library_key, title) VALUES (?, ?, ?)`,
				server.MachineID, lib.Key, lib.Title)
			if err != nil {
				return fmt.Errorf("failed to insert library %s/%d: %w", server.MachineID, lib.Key, err)
			}
		}
		return nil
	})
}

// Servers returns every added server, oldest first, with libraries ordered by key.
func (s *Store) Servers(ctx context.Context) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT machine_id, friendly_name, address, port, plex_token
		FROM plex_servers ORDER BY created_at, machine_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	var servers []Server
	for rows.Next() {
		var srv Server
		if err := rows.Scan(&srv.MachineID, &srv.FriendlyName, &srv.Address, &srv.Port, &srv.PlexToken); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	rows.Close()

	for i := range servers {
		libs, err := s.libraries(ctx, servers[i].MachineID)
		if err != nil {
			return nil, err
		}
		servers[i].Libraries = libs
	}
	return servers, nil
}

func (s *Store) libraries(ctx context.Context, machineID string) ([]Library, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT machine_id, library_key, title, searched_at
		FROM libraries WHERE machine_id = ? ORDER BY library_key`, machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries of %s: %w", machineID, err)
	}
	defer rows.Close()

	var libs []Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list libraries of %s: %w", machineID, err)
	}
	return libs, nil
}

// Library returns one library. Returns ErrNotFound if it does not exist.
func (s *Store) Library(ctx context.Context, machineID string, key int) (Library, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT machine_id, library_key, title, searched_at
		FROM libraries WHERE machine_id = ? AND library_key = ?`, machineID, key)
	lib, err := scanLibrary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Library{}, ErrNotFound
	}
	return lib, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLibrary(row scanner) (Library, error) {
	var (
		lib        Library
		searchedAt sql.NullInt64
	)
	if err := row.Scan(&lib.MachineID, &lib.Key, &lib.Title, &searchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Library{}, err
		}
		return Library{}, fmt.Errorf("failed to scan library: %w", err)
	}
	if searchedAt.Valid {
		lib.SearchedAt = time.Unix(0, searchedAt.Int64).UTC()
	}
	return lib, nil
}

// SaveSearch records the result of searching every library of a server:
// results maps library key to the movies found. Each listed library is
// marked searched at the given time and its previous movies replaced.
// Poster keys are derived in SQL from title and year.
func (s *Store) SaveSearch(ctx context.Context, machineID string, results map[int][]Movie, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for key, movies := range results {
			res, err := tx.ExecContext(ctx, `
				UPDATE libraries SET searched_at = ? WHERE machine_id = ? AND library_key = ?`,
				at.UnixNano(), machineID, key)
			if err != nil {
				return fmt.Errorf("failed to mark library %s/%d searched: %w", machineID, key, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("library %s/%d: %w", machineID, key, ErrNotFound)
			}

			if _, err := tx.ExecContext(ctx, `
				DELETE FROM movies WHERE machine_id = ? AND library_key = ?`, machineID, key); err != nil {
				return fmt.Errorf("failed to clear movies of %s/%d: %w", machineID, key, err)
			}
			for i, m := range movies {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO movies (machine_id, library_key, position, title, year, missing, poster_key)
					VALUES (?3, ?4, ?5, ?1, ?2, ?6, `+posterKeyExpr+`)`,
					m.Title, m.Year, machineID, key, i, m.Missing)
				if err != nil {
					return fmt.Errorf("failed to insert movie %q: %w", m.Title, err)
				}
			}
		}
		return nil
	})
}

// Movies returns the owned movies of a library in search order, optionally
// filtered by a case-insensitive title substring.
func (s *Store) Movies(ctx context.Context, machineID string, key int, filter string) ([]Movie, error) {
	return s.movies(ctx, machineID, key, false, filter)
}

// Recommended returns the missing movies of a library in search order.
func (s *Store) Recommended(ctx context.Context, machineID string, key int) ([]Movie, error) {
	return s.movies(ctx, machineID, key, true, "")
}

func (s *Store) movies(ctx context.Context, machineID string, key int, missing bool, filter string) ([]Movie, error) {
	query := `
		SELECT title, year, poster_key, missing FROM movies
		WHERE machine_id = ? AND library_key = ? AND missing = ?`
	args := []any{machineID, key, missing}
	if filter = strings.TrimSpace(filter); filter != "" {
		query += ` AND instr(lower(title), lower(?)) > 0`
		args = append(args, filter)
	}
	query += ` ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies of %s/%d: %w", machineID, key, err)
	}
	defer rows.Close()

	var movies []Movie
	for rows.Next() {
		var m Movie
		if err := rows.Scan(&m.Title, &m.Year, &m.PosterKey, &m.Missing); err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list movies of %s/%d: %w", machineID, key, err)
	}
	return movies, nil
}

// PosterKey returns the object key SaveSearch assigns to a title and year.
func (s *Store) PosterKey(ctx context.Context, title string, year int) (string, error) {
	var key string
	if err := s.db.QueryRowContext(ctx, `SELECT `+posterKeyExpr, title, year).Scan(&key); err != nil {
		return "", fmt.Errorf("failed to derive poster key: %w", err)
	}
	return key, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sqliteCommonParams() string {
	// Production-safe defaults: WAL + NORMAL provides good throughput while preserving safety.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
