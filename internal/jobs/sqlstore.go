package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	date_folder   TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL,
	volume        REAL,
	simulated     INTEGER NOT NULL DEFAULT 0,
	report_path   TEXT NOT NULL DEFAULT '',
	map_image     TEXT NOT NULL DEFAULT '',
	geo_image     TEXT NOT NULL DEFAULT '',
	email_sent    INTEGER NOT NULL DEFAULT 0,
	whatsapp_sent INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, date_folder, email, phone, state, volume, simulated, report_path,
	map_image, geo_image, email_sent, whatsapp_sent, error, started_at, finished_at`

// SQLStore keeps run history in SQLite.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens (creating if needed) the SQLite database at dsn.
func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// one writer; also keeps a :memory: database alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

type runRow struct {
	ID           string          `db:"id"`
	DateFolder   string          `db:"date_folder"`
	Email        string          `db:"email"`
	Phone        string          `db:"phone"`
	State        string          `db:"state"`
	Volume       sql.NullFloat64 `db:"volume"`
	Simulated    bool            `db:"simulated"`
	ReportPath   string          `db:"report_path"`
	MapImage     string          `db:"map_image"`
	GeoImage     string          `db:"geo_image"`
	EmailSent    bool            `db:"email_sent"`
	WhatsAppSent bool            `db:"whatsapp_sent"`
	Error        string          `db:"error"`
	StartedAt    string          `db:"started_at"`
	FinishedAt   sql.NullString  `db:"finished_at"`
}

func toRow(r *Run) runRow {
	row := runRow{
		ID:           r.ID,
		DateFolder:   r.DateFolder,
		Email:        r.Email,
		Phone:        r.Phone,
		State:        string(r.State),
		Simulated:    r.Simulated,
		ReportPath:   r.ReportPath,
		MapImage:     r.MapImage,
		GeoImage:     r.GeoImage,
		EmailSent:    r.EmailSent,
		WhatsAppSent: r.WhatsAppSent,
		Error:        r.Error,
		StartedAt:    r.StartedAt.UTC().Format(timeLayout),
	}
	if r.Volume != nil {
		row.Volume = sql.NullFloat64{Float64: *r.Volume, Valid: true}
	}
	if r.FinishedAt != nil {
		row.FinishedAt = sql.NullString{String: r.FinishedAt.UTC().Format(timeLayout), Valid: true}
	}
	return row
}

func (row runRow) toRun() (Run, error) {
	started, err := time.Parse(timeLayout, row.StartedAt)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at: %w", row.ID, err)
	}
	r := Run{
		ID:           row.ID,
		DateFolder:   row.DateFolder,
		Email:        row.Email,
		Phone:        row.Phone,
		State:        RunState(row.State),
		Simulated:    row.Simulated,
		ReportPath:   row.ReportPath,
		MapImage:     row.MapImage,
		GeoImage:     row.GeoImage,
		EmailSent:    row.EmailSent,
		WhatsAppSent: row.WhatsAppSent,
		Error:        row.Error,
		StartedAt:    started,
	}
	if row.Volume.Valid {
		v := row.Volume.Float64
		r.Volume = &v
	}
	if row.FinishedAt.Valid {
		finished, err := time.Parse(timeLayout, row.FinishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: bad finished_at: %w", row.ID, err)
		}
		r.FinishedAt = &finished
	}
	return r, nil
}

func (s *SQLStore) Create(run *Run) error {
	_, err := s.db.NamedExec(`INSERT INTO runs (`+runColumns+`) VALUES (
		:id, :date_folder, :email, :phone, :state, :volume, :simulated, :report_path,
		:map_image, :geo_image, :email_sent, :whatsapp_sent, :error, :started_at, :finished_at)`, toRow(run))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLStore) Update(run *Run) error {
	_, err := s.db.NamedExec(`UPDATE runs SET
		state = :state, volume = :volume, simulated = :simulated, report_path = :report_path,
		map_image = :map_image, geo_image = :geo_image, email_sent = :email_sent,
		whatsapp_sent = :whatsapp_sent, error = :error, finished_at = :finished_at
		WHERE id = :id`, toRow(run))
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(id string) (*Run, bool) {
	var row runRow
	if err := s.db.Get(&row, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id); err != nil {
		return nil, false
	}
	r, err := row.toRun()
	if err != nil {
		return nil, false
	}
	return &r, true
}

func (s *SQLStore) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []runRow
	if err := s.db.Select(&rows, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}
