package database

import (
	"database/sql"
	"fmt"

	"talkroom/internal/models"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func setPragmaValues(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	// these next 2 extremely speed up performance of sqlite
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}

	if _, err := db.Exec("PRAGMA synchronous = normal"); err != nil {
		return err
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return err
	}

	return nil
}

func readPragmaValues(db *sql.DB, sugar *zap.SugaredLogger) error {
	var journalModeValue string
	err := db.QueryRow("PRAGMA journal_mode").Scan(&journalModeValue)
	if err != nil {
		return err
	}

	var synchronousValue int
	err = db.QueryRow("PRAGMA synchronous").Scan(&synchronousValue)
	if err != nil {
		return err
	}

	var synchronousValueStr string
	switch synchronousValue {
	case 0:
		synchronousValueStr = "off"
	case 1:
		synchronousValueStr = "normal"
	case 2:
		synchronousValueStr = "full"
	case 3:
		synchronousValueStr = "extra"
	default:
		return fmt.Errorf("synchronous value is unsupported")
	}

	sugar.Infof("sqlite PRAGMA journal_mode: %s, synchronous: %s", journalModeValue, synchronousValueStr)
	return nil
}

// OpenSqlite opens a sqlite database. path may be ":memory:".
func OpenSqlite(path string, sugar *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// there can be sqlite busy errors if this is not set to 1,
	// it also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)

	err = setPragmaValues(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	err = readPragmaValues(db, sugar)
	if err != nil {
		db.Close()
		return nil, err
	}

	err = setupTables(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func Setup(cfg *models.ConfigFile, sugar *zap.SugaredLogger) (*sql.DB, error) {
	if cfg.SelfContained {
		path := cfg.SqlitePath
		if path == "" {
			path = "./database.db"
		}
		sugar.Infof("Connecting to database sqlite at %s...", path)
		return OpenSqlite(path, sugar)
	}

	sugar.Info("Connecting to database mysql/mariadb...")

	db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&timeout=10s", cfg.DbUser, cfg.DbPassword, cfg.DbAddress, cfg.DbPort, cfg.DbDatabase))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	err = setupTables(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func setupTables(db *sql.DB) error {
	_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS messages (
				id BIGINT PRIMARY KEY,
				channel VARCHAR(64) NOT NULL,
				author_id BIGINT NOT NULL,
				author_name VARCHAR(64) NOT NULL,
				author_icon TEXT NOT NULL,
				author_email VARCHAR(128) NOT NULL,
				author_url TEXT NOT NULL,
				author_moderator BOOLEAN NOT NULL,
				content TEXT NOT NULL,
				date BIGINT NOT NULL,
				reply_to_id BIGINT NOT NULL,
				title VARCHAR(128) NOT NULL,
				rating INTEGER NOT NULL,
				approved BOOLEAN NOT NULL
			);
		`)
	if err != nil {
		return err
	}

	return nil
}
