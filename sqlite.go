package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Zelak312/rsgs/model"
	"github.com/Zelak312/rsgs/tensor"
)

type Sqlite struct {
	pool *sql.DB
}

type CheckpointInfo struct {
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	Tensors   int    `json:"tensors"`
	CreatedAt string `json:"createdAt"`
}

type LossEntry struct {
	RunID string  `json:"runId"`
	Step  int     `json:"step"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func NewSqlite(path string) (*Sqlite, error) {
	pool, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := pool.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Sqlite{
		pool: pool,
	}, nil
}

func (s *Sqlite) Close() error {
	return s.pool.Close()
}

//go:embed migrations/*.sql
var embedMigrations embed.FS

func (s *Sqlite) RunMigrations() error {
	migrationFs, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create fs.FS: %w", err)
	}

	d, err := iofs.New(migrationFs, ".")
	if err != nil {
		return fmt.Errorf("failed to create new instance: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.pool, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to get driver with instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to make new instance of migration: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed doing migrations: %w", err)
	}

	return nil
}

func (s *Sqlite) GetClips() ([]Clip, error) {
	querySQL := `SELECT id, path, reverse_path, output_path FROM clips WHERE done = false AND failed = false`
	rows, err := s.pool.Query(querySQL)
	if err != nil {
		return []Clip{}, err
	}

	defer rows.Close()
	clips := []Clip{}
	for rows.Next() {
		var c Clip
		if err := rows.Scan(&c.ID, &c.Path, &c.ReversePath, &c.OutputPath); err != nil {
			return clips, err
		}
		clips = append(clips, c)
	}

	if err := rows.Err(); err != nil {
		return []Clip{}, err
	}

	return clips, nil
}

func (s *Sqlite) InsertClip(clip *Clip) (int64, error) {
	insertSQL := `INSERT INTO clips (path, reverse_path, output_path, done) VALUES (?, ?, ?, ?)`
	result, err := s.pool.Exec(insertSQL, clip.Path, clip.ReversePath, clip.OutputPath, false)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	clip.ID = id
	return id, nil
}

func (s *Sqlite) MarkClipAsDone(clip *Clip) error {
	_, err := s.pool.Exec(`UPDATE clips SET done = true WHERE id = ?`, clip.ID)
	return err
}

func (s *Sqlite) GetClipRetries(clip *Clip) (int, error) {
	retries := 0
	err := s.pool.QueryRow(`SELECT retries FROM clips WHERE id = ?`, clip.ID).Scan(&retries)
	if err != nil {
		return 0, err
	}

	return retries, nil
}

func (s *Sqlite) UpdateClipRetries(clip *Clip, retries int) error {
	_, err := s.pool.Exec(`UPDATE clips SET retries = ? WHERE id = ?`, retries, clip.ID)
	return err
}

func (s *Sqlite) FailClip(clip *Clip, output string, progErr string) (err error) {
	tx, err := s.pool.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	insertSQL := `INSERT INTO failed_clips (clip_id, ffmpeg_output, error) VALUES (?, ?, ?)`
	if _, err = tx.Exec(insertSQL, clip.ID, output, progErr); err != nil {
		return err
	}

	if _, err = tx.Exec(`UPDATE clips SET failed = ? WHERE id = ?`, true, clip.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Sqlite) DeleteClipByID(id int64) error {
	_, err := s.pool.Exec(`DELETE FROM clips WHERE id = ?`, id)
	return err
}

func (s *Sqlite) GetFailedClips() ([]FailedClip, error) {
	querySQL := `SELECT f.id, f.ffmpeg_output, f.error, c.id, c.path, c.reverse_path, c.output_path FROM failed_clips f
				INNER JOIN clips c ON c.id = f.clip_id`
	rows, err := s.pool.Query(querySQL)
	if err != nil {
		return []FailedClip{}, err
	}

	defer rows.Close()
	clips := []FailedClip{}
	for rows.Next() {
		var f FailedClip
		if err := rows.Scan(&f.ID, &f.FFmpegOutput, &f.Error,
			&f.Clip.ID, &f.Clip.Path, &f.Clip.ReversePath, &f.Clip.OutputPath); err != nil {
			return clips, err
		}
		clips = append(clips, f)
	}

	if err := rows.Err(); err != nil {
		return []FailedClip{}, err
	}

	return clips, nil
}

// SaveCheckpoint replaces every tensor stored under kind and label
func (s *Sqlite) SaveCheckpoint(kind, label string, state map[string]*tensor.Tensor) (err error) {
	tx, err := s.pool.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM checkpoints WHERE kind = ? AND label = ?`, kind, label); err != nil {
		return err
	}

	statement, err := tx.Prepare(`INSERT INTO checkpoints (kind, label, name, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	defer statement.Close()
	for name, t := range state {
		var data []byte
		data, err = t.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encoding %s: %w", name, err)
		}

		if _, err = statement.Exec(kind, label, name, data); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Sqlite) LoadCheckpoint(kind, label string) (map[string]*tensor.Tensor, error) {
	rows, err := s.pool.Query(`SELECT name, data FROM checkpoints WHERE kind = ? AND label = ?`, kind, label)
	if err != nil {
		return nil, err
	}

	defer rows.Close()
	state := map[string]*tensor.Tensor{}
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}

		t, err := tensor.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		state[name] = t
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(state) == 0 {
		return nil, fmt.Errorf("%w: %s [%s]", model.ErrNoCheckpoint, kind, label)
	}

	return state, nil
}

func (s *Sqlite) GetCheckpoints() ([]CheckpointInfo, error) {
	querySQL := `SELECT kind, label, COUNT(*), MAX(created_at) FROM checkpoints
				GROUP BY kind, label ORDER BY MAX(id)`
	rows, err := s.pool.Query(querySQL)
	if err != nil {
		return []CheckpointInfo{}, err
	}

	defer rows.Close()
	infos := []CheckpointInfo{}
	for rows.Next() {
		var c CheckpointInfo
		if err := rows.Scan(&c.Kind, &c.Label, &c.Tensors, &c.CreatedAt); err != nil {
			return infos, err
		}
		infos = append(infos, c)
	}

	if err := rows.Err(); err != nil {
		return []CheckpointInfo{}, err
	}

	return infos, nil
}

func (s *Sqlite) InsertLosses(runID string, step int, losses map[string]float64) (err error) {
	tx, err := s.pool.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	statement, err := tx.Prepare(`INSERT INTO losses (run_id, step, name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	defer statement.Close()
	for name, value := range losses {
		if _, err = statement.Exec(runID, step, name, value); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Sqlite) GetLosses(runID string) ([]LossEntry, error) {
	querySQL := `SELECT run_id, step, name, value FROM losses WHERE run_id = ? ORDER BY step, name`
	rows, err := s.pool.Query(querySQL, runID)
	if err != nil {
		return []LossEntry{}, err
	}

	defer rows.Close()
	entries := []LossEntry{}
	for rows.Next() {
		var e LossEntry
		if err := rows.Scan(&e.RunID, &e.Step, &e.Name, &e.Value); err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return []LossEntry{}, err
	}

	return entries, nil
}
