package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

const campaignColumns = `id, name, message, target_type, contact_group_id, whatsapp_group_id,
	media_url, media_type, schedule_type, time_post, schedule_hours, min_interval, max_interval,
	status, sent_count, failed_count, total_targets, last_executed, created_at, updated_at`

// PostgresStore persists campaigns and contact groups with lib/pq.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// OpenPostgres connects with the "postgres" driver and checks the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping campaign datastore: %w", err)
	}
	return NewPostgresStore(db), nil
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InitializeSchema applies the idempotent migrations.
func (s *PostgresStore) InitializeSchema(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("migration %d failed: %w", i+1, err)
			}
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS contact_groups (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS contact_group_members (
		group_id VARCHAR(36) NOT NULL REFERENCES contact_groups(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		phone_number VARCHAR(32) NOT NULL,
		name VARCHAR(255),
		status VARCHAR(16) NOT NULL,
		PRIMARY KEY (group_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS campaigns (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		message TEXT NOT NULL,
		target_type VARCHAR(32) NOT NULL,
		contact_group_id VARCHAR(36),
		whatsapp_group_id VARCHAR(255),
		media_url TEXT,
		media_type VARCHAR(16),
		schedule_type VARCHAR(16) NOT NULL,
		time_post TIMESTAMPTZ,
		schedule_hours INTEGER[] NOT NULL DEFAULT '{}',
		min_interval INTEGER NOT NULL,
		max_interval INTEGER NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'draft',
		sent_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		total_targets INTEGER NOT NULL DEFAULT 0,
		last_executed TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*campaign.Campaign, error) {
	var (
		c                                   campaign.Campaign
		groupID, waGroupID, mediaURL, media sql.NullString
		timePost, lastExecuted              sql.NullTime
		hours                               pq.Int64Array
	)
	err := row.Scan(&c.ID, &c.Name, &c.Message, &c.TargetType, &groupID, &waGroupID,
		&mediaURL, &media, &c.ScheduleType, &timePost, &hours, &c.MinInterval, &c.MaxInterval,
		&c.Status, &c.SentCount, &c.FailedCount, &c.TotalTargets, &lastExecuted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.ContactGroupID = groupID.String
	c.WhatsAppGroupID = waGroupID.String
	c.MediaURL = mediaURL.String
	c.MediaType = campaign.MediaType(media.String)
	if timePost.Valid {
		t := timePost.Time
		c.TimePost = &t
	}
	if lastExecuted.Valid {
		t := lastExecuted.Time
		c.LastExecuted = &t
	}
	for _, h := range hours {
		c.ScheduleHours = append(c.ScheduleHours, int(h))
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func hoursArray(hours []int) pq.Int64Array {
	out := make(pq.Int64Array, 0, len(hours))
	for _, h := range hours {
		out = append(out, int64(h))
	}
	return out
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) List(ctx context.Context) ([]*campaign.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, c *campaign.Campaign) error {
	var timePost sql.NullTime
	if c.TimePost != nil {
		timePost = sql.NullTime{Time: *c.TimePost, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, message, target_type, contact_group_id, whatsapp_group_id,
			media_url, media_type, schedule_type, time_post, schedule_hours, min_interval, max_interval,
			status, sent_count, failed_count, total_targets, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, c.ID, c.Name, c.Message, c.TargetType, nullString(c.ContactGroupID), nullString(c.WhatsAppGroupID),
		nullString(c.MediaURL), nullString(string(c.MediaType)), c.ScheduleType, timePost, hoursArray(c.ScheduleHours),
		c.MinInterval, c.MaxInterval, c.Status, c.SentCount, c.FailedCount, c.TotalTargets, c.CreatedAt, c.UpdatedAt)
	return err
}

// Update applies the patch in one UPDATE ... RETURNING statement so the
// status precondition and the write are atomic.
func (s *PostgresStore) Update(ctx context.Context, id string, patch campaign.Patch) (*campaign.Campaign, error) {
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.SentCount != nil {
		set("sent_count", *patch.SentCount)
	}
	if patch.FailedCount != nil {
		set("failed_count", *patch.FailedCount)
	}
	if patch.TotalTargets != nil {
		set("total_targets", *patch.TotalTargets)
	}
	if patch.ClearLastExecuted {
		sets = append(sets, "last_executed = NULL")
	} else if patch.LastExecuted != nil {
		set("last_executed", *patch.LastExecuted)
	}
	set("updated_at", s.now())

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if len(patch.WhereStatus) > 0 {
		statuses := make([]string, 0, len(patch.WhereStatus))
		for _, st := range patch.WhereStatus {
			statuses = append(statuses, string(st))
		}
		args = append(args, pq.Array(statuses))
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	query := `UPDATE campaigns SET ` + strings.Join(sets, ", ") + ` WHERE ` + where + ` RETURNING ` + campaignColumns
	c, err := scanCampaign(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) CreateGroup(ctx context.Context, name string) (*campaign.ContactGroup, error) {
	g := campaign.ContactGroup{ID: uuid.NewString(), Name: name, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx, `INSERT INTO contact_groups (id, name, created_at) VALUES ($1, $2, $3)`,
		g.ID, g.Name, g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]campaign.ContactGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM contact_groups ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []campaign.ContactGroup
	for rows.Next() {
		var g campaign.ContactGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) GetGroup(ctx context.Context, id string) (*campaign.ContactGroup, error) {
	var g campaign.ContactGroup
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM contact_groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) GetMembers(ctx context.Context, groupID string) ([]campaign.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phone_number, name, status FROM contact_group_members
		WHERE group_id = $1 ORDER BY position
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []campaign.Member
	for rows.Next() {
		var (
			m    campaign.Member
			name sql.NullString
		)
		if err := rows.Scan(&m.PhoneNumber, &name, &m.Status); err != nil {
			return nil, err
		}
		m.Name = name.String
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMembers appends members after the current highest position.
func (s *PostgresStore) AddMembers(ctx context.Context, groupID string, members []campaign.Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM contact_group_members WHERE group_id = $1`, groupID).Scan(&next)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contact_group_members (group_id, position, phone_number, name, status)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range members {
		if _, err := stmt.ExecContext(ctx, groupID, next+i, m.PhoneNumber, nullString(m.Name), m.Status); err != nil {
			return fmt.Errorf("insert member %d: %w", i, err)
		}
	}
	return tx.Commit()
}
