package repository

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/surveysync/surveysync-api/internal/models"
)

var ErrConnectionNotFound = errors.New("connection not found")

type ConnectionRepository interface {
	List() ([]*models.SourceConnection, error)
	Get(id string) (*models.SourceConnection, error)
	Create(conn *models.SourceConnection) (*models.SourceConnection, error)
	UpdateStatus(id, status string) error
	Delete(id string) error
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) List() ([]*models.SourceConnection, error) {
	rows, err := r.db.Query(`
		SELECT id, name, server_url, username, password_enc, status, created_at, updated_at
		FROM surveysync.connections
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*models.SourceConnection
	for rows.Next() {
		conn := &models.SourceConnection{}
		if err := rows.Scan(&conn.ID, &conn.Name, &conn.ServerURL, &conn.Username,
			&conn.PasswordEnc, &conn.Status, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

func (r *connectionRepository) Get(id string) (*models.SourceConnection, error) {
	conn := &models.SourceConnection{}
	err := r.db.QueryRow(`
		SELECT id, name, server_url, username, password_enc, status, created_at, updated_at
		FROM surveysync.connections
		WHERE id = $1
	`, id).Scan(&conn.ID, &conn.Name, &conn.ServerURL, &conn.Username,
		&conn.PasswordEnc, &conn.Status, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) Create(conn *models.SourceConnection) (*models.SourceConnection, error) {
	conn.ID = uuid.NewString()
	if conn.Status == "" {
		conn.Status = "untested"
	}
	err := r.db.QueryRow(`
		INSERT INTO surveysync.connections (id, name, server_url, username, password_enc, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, conn.ID, conn.Name, conn.ServerURL, conn.Username, conn.PasswordEnc, conn.Status).
		Scan(&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) UpdateStatus(id, status string) error {
	res, err := r.db.Exec(
		"UPDATE surveysync.connections SET status = $2, updated_at = now() WHERE id = $1",
		id, status,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func (r *connectionRepository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM surveysync.connections WHERE id = $1", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
