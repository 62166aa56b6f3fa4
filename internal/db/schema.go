package db

// Schema holds the stand-in application state: settings (the TMDB key),
// added Plex servers, their libraries, and the owned and missing movies
// found by the last search of each library.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS plex_servers (
    machine_id TEXT PRIMARY KEY,
    friendly_name TEXT NOT NULL,
    address TEXT NOT NULL,
    port INTEGER NOT NULL,
    plex_token TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS libraries (
    machine_id TEXT NOT NULL REFERENCES plex_servers(machine_id) ON DELETE CASCADE,
    library_key INTEGER NOT NULL,
    title TEXT NOT NULL,
    searched_at INTEGER,  -- NULL until the first search of the server
    PRIMARY KEY (machine_id, library_key)
);

CREATE TABLE IF NOT EXISTS movies (
    machine_id TEXT NOT NULL,
    library_key INTEGER NOT NULL,
    position INTEGER NOT NULL,
    title TEXT NOT NULL,
    year INTEGER NOT NULL,
    poster_key TEXT NOT NULL,
    missing INTEGER NOT NULL DEFAULT 0,  -- 1 for collection entries not in the library
    PRIMARY KEY (machine_id, library_key, position),
    FOREIGN KEY (machine_id, library_key)
        REFERENCES libraries(machine_id, library_key) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_movies_title ON movies(title);
`

// posterKeyExpr derives a stable object key from a title and year with the
// poster_key() function registered by the driver.
const posterKeyExpr = `poster_key(?1, ?2)`
