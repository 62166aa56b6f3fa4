package db

import (
	"crypto/sha3"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the SQLCipher driver with the poster_key() SQL
	// function registered on every connection.
	SQLiteDriverName = "sqlite3_gaps"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("poster_key", sqlitePosterKey, true); err != nil {
				return fmt.Errorf("register poster_key SQL function: %w", err)
			}
			return nil
		},
	})
}

// PosterKey is the S3 object key of a title's poster:
// posters/<hex sha3-256 of "Title (Year)">.png.
func PosterKey(title string, year int) string {
	sum := sha3.Sum256([]byte(title + " (" + strconv.Itoa(year) + ")"))
	return "posters/" + hex.EncodeToString(sum[:]) + ".png"
}

func sqlitePosterKey(title string, year int64) string {
	return PosterKey(title, int(year))
}
