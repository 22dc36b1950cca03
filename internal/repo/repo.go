// Package repo is the sqlite implementation of the Domain Directory and the
// Rule Store.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"alertline/internal/domain"
	"alertline/internal/events"
)

type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

func New(db *sql.DB) Repo {
	return Repo{DB: db, Events: events.Writer{Now: time.Now}, Now: time.Now}
}

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// AddDomain registers a domain for userID. Names are stored lower-cased;
// a second registration of the same name returns ErrDuplicate.
func (r Repo) AddDomain(ctx context.Context, userID, name string, tags []string, status string) (domain.Domain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return domain.Domain{}, errors.New("domain name is required")
	}
	if status == "" {
		status = domain.DomainActive
	}
	if status != domain.DomainActive && status != domain.DomainInactive {
		return domain.Domain{}, fmt.Errorf("invalid domain status %q", status)
	}
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return domain.Domain{}, err
	}
	d := domain.Domain{
		ID:        "dom_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		UserID:    userID,
		Name:      name,
		Tags:      tags,
		Status:    status,
		CreatedAt: r.now(),
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Domain{}, err
	}
	defer tx.Rollback()
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM domains WHERE user_id=? AND name=?`, userID, name).Scan(&existing)
	if err == nil {
		return domain.Domain{}, fmt.Errorf("domain %s: %w", name, ErrDuplicate)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Domain{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO domains(id,user_id,name,status,tags_json,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.UserID, d.Name, d.Status, string(tagsJSON), d.CreatedAt); err != nil {
		return domain.Domain{}, fmt.Errorf("insert domain: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Domain{}, err
	}
	return d, nil
}

// ListDomains returns userID's domains ordered by name. A non-empty
// nameFilter keeps names containing it, ignoring case.
func (r Repo) ListDomains(ctx context.Context, userID, nameFilter string) ([]domain.Domain, error) {
	query := `SELECT id,user_id,name,status,tags_json,created_at FROM domains WHERE user_id=?`
	args := []any{userID}
	if f := strings.ToLower(strings.TrimSpace(nameFilter)); f != "" {
		query += ` AND instr(name, ?) > 0`
		args = append(args, f)
	}
	query += ` ORDER BY name`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Domain{}
	for rows.Next() {
		var d domain.Domain
		var tagsJSON string
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Status, &tagsJSON, &d.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil {
			return nil, fmt.Errorf("domain %s tags: %w", d.ID, err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
