package repo

import (
	"context"
	"database/sql"
	"errors"
)

func (r Repo) AddSpaceMember(ctx context.Context, q DBTX, spaceID, userID, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := q.ExecContext(ctx, `INSERT INTO space_members(space_id,user_id,role) VALUES (?,?,?)
ON CONFLICT(space_id,user_id) DO UPDATE SET role=excluded.role`, spaceID, userID, role)
	return err
}

func (r Repo) IsSpaceMember(ctx context.Context, q DBTX, spaceID, userID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM space_members WHERE space_id=? AND user_id=? LIMIT 1`, spaceID, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// SpaceMembers returns member ids mapped to their role.
func (r Repo) SpaceMembers(ctx context.Context, q DBTX, spaceID string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id, role FROM space_members WHERE space_id=?`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var user, role string
		if err := rows.Scan(&user, &role); err != nil {
			return nil, err
		}
		res[user] = role
	}
	return res, rows.Err()
}
