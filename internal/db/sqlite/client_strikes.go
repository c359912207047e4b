package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/Bilolbee/apkban/internal/errors"
	"github.com/Bilolbee/apkban/internal/strikes"
)

type strikeRow struct {
	GroupID    int64          `db:"group_id"`
	UserID     int64          `db:"user_id"`
	Strikes    int            `db:"strikes"`
	LastStrike sql.NullTime   `db:"last_strike"`
	Username   sql.NullString `db:"username"`
	FirstName  sql.NullString `db:"first_name"`
}

func (r strikeRow) record() strikes.Record {
	rec := strikes.Record{
		Key:       strikes.Key{GroupID: r.GroupID, UserID: r.UserID},
		Strikes:   r.Strikes,
		Username:  r.Username.String,
		FirstName: r.FirstName.String,
	}
	if r.LastStrike.Valid {
		rec.LastStrike = r.LastStrike.Time
	}
	return rec
}

func rowOf(rec strikes.Record) strikeRow {
	return strikeRow{
		GroupID:    rec.GroupID,
		UserID:     rec.UserID,
		Strikes:    rec.Strikes,
		LastStrike: sql.NullTime{Time: rec.LastStrike.UTC(), Valid: !rec.LastStrike.IsZero()},
		Username:   sql.NullString{String: rec.Username, Valid: rec.Username != ""},
		FirstName:  sql.NullString{String: rec.FirstName, Valid: rec.FirstName != ""},
	}
}

func (c *sqliteClient) Load(ctx context.Context) ([]strikes.Record, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var rows []strikeRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT group_id, user_id, strikes, last_strike, username, first_name
		FROM strikes
		ORDER BY group_id, user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: select strikes: %w", apperrors.ErrStorageRead, err)
	}

	res := make([]strikes.Record, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.record())
	}
	return res, nil
}

func (c *sqliteClient) Put(ctx context.Context, rec strikes.Record) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO strikes (group_id, user_id, strikes, last_strike, username, first_name)
		VALUES (:group_id, :user_id, :strikes, :last_strike, :username, :first_name)
		ON CONFLICT(group_id, user_id) DO UPDATE SET
		strikes = excluded.strikes,
		last_strike = excluded.last_strike,
		username = excluded.username,
		first_name = excluded.first_name
	`
	if _, err := c.db.NamedExecContext(ctx, query, rowOf(rec)); err != nil {
		return fmt.Errorf("upsert strike %s: %w", rec.Key, err)
	}
	return nil
}

func (c *sqliteClient) Delete(ctx context.Context, key strikes.Key) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM strikes WHERE group_id = ? AND user_id = ?`, key.GroupID, key.UserID)
	if err != nil {
		return fmt.Errorf("delete strike %s: %w", key, err)
	}
	return nil
}
