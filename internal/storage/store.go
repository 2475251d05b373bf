package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// sqlStore implements Store on database/sql. Queries are written with `?`
// placeholders; the postgres dialect rewrites them to $n at call time.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (s *sqlStore) q(query string) string {
	if s.dialect == dialectPostgres {
		return rebind(query)
	}
	return query
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) EnsureTenant(ctx context.Context, tenantID int64) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO tenant_settings (tenant_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id) DO NOTHING`),
		tenantID, now, now)
	if err != nil {
		return fmt.Errorf("ensure tenant %d: %w", tenantID, err)
	}
	return nil
}

func (s *sqlStore) Tenants(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenant_settings ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) TenantSettings(ctx context.Context, tenantID int64) (TenantSettings, error) {
	var (
		ts                   TenantSettings
		lb                   int
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT tenant_id, destination_chat, destination_thread,
		       drop_text, drop_image, claim_text, claim_image, destroy_text, destroy_image,
		       rare_drop_text, rare_drop_image, rare_claim_text, rare_claim_image,
		       rare_destroy_text, rare_destroy_image,
		       rare_role, expiry_minutes, leaderboard_on,
		       created_at, updated_at
		FROM tenant_settings WHERE tenant_id = ?`), tenantID).Scan(
		&ts.TenantID, &ts.DestinationChat, &ts.DestinationThread,
		&ts.DropText, &ts.DropImage, &ts.ClaimText, &ts.ClaimImage, &ts.DestroyText, &ts.DestroyImage,
		&ts.RareDropText, &ts.RareDropImage, &ts.RareClaimText, &ts.RareClaimImage,
		&ts.RareDestroyText, &ts.RareDestroyImage,
		&ts.RareRole, &ts.ExpiryMinutes, &lb,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TenantSettings{}, ErrNotFound
	}
	if err != nil {
		return TenantSettings{}, fmt.Errorf("tenant settings %d: %w", tenantID, err)
	}
	ts.LeaderboardOn = lb != 0
	ts.CreatedAt = time.Unix(createdAt, 0).UTC()
	ts.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return ts, nil
}

func (s *sqlStore) UpdateTenantField(ctx context.Context, tenantID int64, field Field, value any) error {
	col, ok := columns[field]
	if !ok {
		return fmt.Errorf("update tenant %d: unknown field %q", tenantID, field)
	}
	if b, isBool := value.(bool); isBool {
		if b {
			value = 1
		} else {
			value = 0
		}
	}
	res, err := s.db.ExecContext(ctx,
		s.q(fmt.Sprintf(`UPDATE tenant_settings SET %s = ?, updated_at = ? WHERE tenant_id = ?`, col)),
		value, time.Now().Unix(), tenantID)
	if err != nil {
		return fmt.Errorf("update tenant %d field %s: %w", tenantID, field, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) PolicyValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM policy WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("policy %q: %w", key, err)
	}
	return v, nil
}

func (s *sqlStore) SetPolicyValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO policy (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`), key, value)
	if err != nil {
		return fmt.Errorf("set policy %q: %w", key, err)
	}
	return nil
}

func (s *sqlStore) AddStats(ctx context.Context, tenantID, participantID int64, d StatsDelta) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO item_stats (tenant_id, participant_id, name, claimed, destroyed, rare_claimed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, participant_id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE item_stats.name END,
			claimed = item_stats.claimed + excluded.claimed,
			destroyed = item_stats.destroyed + excluded.destroyed,
			rare_claimed = item_stats.rare_claimed + excluded.rare_claimed`),
		tenantID, participantID, d.Name, d.Claimed, d.Destroyed, d.RareClaimed)
	if err != nil {
		return fmt.Errorf("add stats tenant %d participant %d: %w", tenantID, participantID, err)
	}
	return nil
}

func (s *sqlStore) TopCollectors(ctx context.Context, tenantID int64, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT participant_id, name, claimed
		FROM item_stats
		WHERE tenant_id = ? AND claimed > 0
		ORDER BY claimed DESC, participant_id
		LIMIT ?`), tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("top collectors tenant %d: %w", tenantID, err)
	}
	return scanLeaderboard(rows)
}

func (s *sqlStore) GlobalTopCollectors(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT participant_id, MAX(name), SUM(claimed) AS total
		FROM item_stats
		GROUP BY participant_id
		HAVING SUM(claimed) > 0
		ORDER BY total DESC, participant_id
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("global top collectors: %w", err)
	}
	return scanLeaderboard(rows)
}

func scanLeaderboard(rows *sql.Rows) ([]LeaderboardEntry, error) {
	defer rows.Close()
	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.ParticipantID, &e.Name, &e.Claimed); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertDrop(ctx context.Context, d ActiveDrop) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO active_drops (chat_id, message_id, tenant_id, thread_id, rare, posted_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		d.ChatID, d.MessageID, d.TenantID, d.ThreadID, boolInt(d.Rare), d.PostedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert drop %d/%d: %w", d.ChatID, d.MessageID, err)
	}
	return nil
}

// ResolveDrop is the arbitration point for the claim/destroy race: the
// conditional UPDATE succeeds for exactly one caller per drop.
func (s *sqlStore) ResolveDrop(ctx context.Context, chatID int64, messageID int, outcome string, actorID int64, at time.Time) (ActiveDrop, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE active_drops
		SET resolved = 1, outcome = ?, resolved_by = ?, resolved_at = ?
		WHERE chat_id = ? AND message_id = ? AND resolved = 0`),
		outcome, actorID, at.Unix(), chatID, messageID)
	if err != nil {
		return ActiveDrop{}, fmt.Errorf("resolve drop %d/%d: %w", chatID, messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ActiveDrop{}, fmt.Errorf("resolve drop %d/%d: %w", chatID, messageID, err)
	}
	if n == 0 {
		var resolved int
		err := s.db.QueryRowContext(ctx,
			s.q(`SELECT resolved FROM active_drops WHERE chat_id = ? AND message_id = ?`),
			chatID, messageID).Scan(&resolved)
		if errors.Is(err, sql.ErrNoRows) {
			return ActiveDrop{}, ErrNotFound
		}
		if err != nil {
			return ActiveDrop{}, fmt.Errorf("resolve drop %d/%d: %w", chatID, messageID, err)
		}
		return ActiveDrop{}, ErrAlreadyResolved
	}
	return s.dropRow(ctx, chatID, messageID)
}

func (s *sqlStore) dropRow(ctx context.Context, chatID int64, messageID int) (ActiveDrop, error) {
	var (
		d                    ActiveDrop
		rare, resolved       int
		postedAt, resolvedAt int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT chat_id, message_id, tenant_id, thread_id, rare, posted_at,
		       resolved, outcome, resolved_by, resolved_at
		FROM active_drops WHERE chat_id = ? AND message_id = ?`),
		chatID, messageID).Scan(
		&d.ChatID, &d.MessageID, &d.TenantID, &d.ThreadID, &rare, &postedAt,
		&resolved, &d.Outcome, &d.ResolvedBy, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ActiveDrop{}, ErrNotFound
	}
	if err != nil {
		return ActiveDrop{}, fmt.Errorf("drop row %d/%d: %w", chatID, messageID, err)
	}
	d.Rare = rare != 0
	d.Resolved = resolved != 0
	d.PostedAt = time.Unix(postedAt, 0).UTC()
	if resolvedAt > 0 {
		d.ResolvedAt = time.Unix(resolvedAt, 0).UTC()
	}
	return d, nil
}

func (s *sqlStore) UnresolvedDrops(ctx context.Context) ([]ActiveDrop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, message_id, tenant_id, thread_id, rare, posted_at
		FROM active_drops WHERE resolved = 0 ORDER BY posted_at`)
	if err != nil {
		return nil, fmt.Errorf("unresolved drops: %w", err)
	}
	defer rows.Close()

	var out []ActiveDrop
	for rows.Next() {
		var (
			d        ActiveDrop
			rare     int
			postedAt int64
		)
		if err := rows.Scan(&d.ChatID, &d.MessageID, &d.TenantID, &d.ThreadID, &rare, &postedAt); err != nil {
			return nil, err
		}
		d.Rare = rare != 0
		d.PostedAt = time.Unix(postedAt, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteDrop(ctx context.Context, chatID int64, messageID int) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM active_drops WHERE chat_id = ? AND message_id = ?`), chatID, messageID)
	if err != nil {
		return fmt.Errorf("delete drop %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

func (s *sqlStore) PruneResolved(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM active_drops WHERE resolved = 1 AND resolved_at < ?`), olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune resolved: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqlStore) SetAuthorized(ctx context.Context, tenantID, userID int64, authorized bool) error {
	var err error
	if authorized {
		_, err = s.db.ExecContext(ctx, s.q(`
			INSERT INTO permissions (tenant_id, user_id) VALUES (?, ?)
			ON CONFLICT (tenant_id, user_id) DO NOTHING`), tenantID, userID)
	} else {
		_, err = s.db.ExecContext(ctx,
			s.q(`DELETE FROM permissions WHERE tenant_id = ? AND user_id = ?`), tenantID, userID)
	}
	if err != nil {
		return fmt.Errorf("set authorized tenant %d user %d: %w", tenantID, userID, err)
	}
	return nil
}

func (s *sqlStore) IsAuthorized(ctx context.Context, tenantID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT 1 FROM permissions WHERE tenant_id = ? AND user_id = ?`),
		tenantID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is authorized tenant %d user %d: %w", tenantID, userID, err)
	}
	return true, nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO audit_log (tenant_id, actor_id, action, detail, at)
		VALUES (?, ?, ?, ?, ?)`),
		e.TenantID, e.ActorID, e.Action, e.Detail, at.Unix())
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
