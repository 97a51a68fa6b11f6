package generation_history

import (
	"context"
	"database/sql"
	"errors"

	"sd_control_bot/clock"
	"sd_control_bot/entities"
)

const truncatedPromptLength = 100

const insertEntryQuery string = `
INSERT INTO generation_history (task_id, member_id, username, prompt, success, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?);
`

// Only a fixed-size trailing window of entries is retained; everything older
// is dropped on each append.
const trimEntriesQuery string = `
DELETE FROM generation_history WHERE id NOT IN (SELECT id FROM generation_history ORDER BY id DESC LIMIT ?);
`

const recentEntriesQuery string = `
SELECT id, task_id, member_id, username, prompt, success, error, created_at FROM generation_history ORDER BY id DESC LIMIT ?;
`

type sqliteRepo struct {
	dbConn    *sql.DB
	clock     clock.Clock
	retention int
}

type Config struct {
	DB *sql.DB
	// Retention is the trailing-window size kept on disk.
	Retention int
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	if cfg.Retention <= 0 {
		return nil, errors.New("missing retention parameter")
	}

	newRepo := &sqliteRepo{
		dbConn:    cfg.DB,
		clock:     clock.NewClock(),
		retention: cfg.Retention,
	}

	return newRepo, nil
}

func (repo *sqliteRepo) Append(ctx context.Context, entry *entities.HistoryEntry) error {
	entry.CreatedAt = repo.clock.Now()

	prompt := entry.Prompt
	if len(prompt) > truncatedPromptLength {
		prompt = prompt[:truncatedPromptLength] + "..."
	}

	res, err := repo.dbConn.ExecContext(ctx, insertEntryQuery,
		entry.TaskID, entry.MemberID, entry.Username, prompt,
		entry.Success, entry.Error, entry.CreatedAt)
	if err != nil {
		return err
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	entry.ID = lastID
	entry.Prompt = prompt

	_, err = repo.dbConn.ExecContext(ctx, trimEntriesQuery, repo.retention)

	return err
}

func (repo *sqliteRepo) Recent(ctx context.Context, limit int) ([]*entities.HistoryEntry, error) {
	rows, err := repo.dbConn.QueryContext(ctx, recentEntriesQuery, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var entries []*entities.HistoryEntry

	for rows.Next() {
		var entry entities.HistoryEntry

		err = rows.Scan(&entry.ID, &entry.TaskID, &entry.MemberID, &entry.Username,
			&entry.Prompt, &entry.Success, &entry.Error, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
