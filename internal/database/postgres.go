package database

import (
	"database/sql"
)

type PgTeamChatRepository struct {
	conn *sql.DB
}

func NewPgTeamChatRepository(dsn string) (*PgTeamChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgTeamChatRepository{conn: db}, nil
}

func (db *PgTeamChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgTeamChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
