package db

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

// Open opens a sqlite database at the given DSN and tunes it for the
// concurrent federation workload. GetDB wraps this for the production
// singleton; tests open :memory: databases directly.
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	err = sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
	if err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for concurrent delivery fan-out
	sqlDB.Exec("PRAGMA synchronous = NORMAL")      // Reduces fsync calls
	sqlDB.Exec("PRAGMA cache_size = -64000")       // 64MB cache per connection
	sqlDB.Exec("PRAGMA temp_store = MEMORY")       // Store temp tables in RAM
	sqlDB.Exec("PRAGMA busy_timeout = 5000")       // Wait up to 5s for locks
	sqlDB.Exec("PRAGMA foreign_keys = ON")         // Enable FK constraints
	sqlDB.Exec("PRAGMA auto_vacuum = INCREMENTAL") // Better performance than FULL

	return &DB{db: sqlDB}, nil
}

func GetDB() *DB {
	dbOnce.Do(func() {
		database, err := Open("database.db")
		if err != nil {
			panic(err)
		}

		log.Printf("Database initialized with connection pooling (max 25 connections)")

		dbInstance = database

		if err := dbInstance.RunMigrations(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// Close closes the underlying connection pool
func (db *DB) Close() error {
	return db.db.Close()
}

func txContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second*5)
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// IsUniqueViolation reports whether err is a sqlite UNIQUE constraint
// failure; the key manager uses it to detect a lost creation race.
func IsUniqueViolation(err error) bool {
	serr, ok := err.(*sqlite.Error)
	if !ok {
		return false
	}
	code := serr.Code()
	return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY ||
		code == sqlitelib.SQLITE_CONSTRAINT
}
