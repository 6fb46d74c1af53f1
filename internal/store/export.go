package store

import (
	"context"
	"fmt"
)

// Snapshot is a cached session in its stored form.
type Snapshot struct {
	UserID string
	Data   []byte
}

// AllSnapshots returns every cached session ordered by user id.
func (s *Store) AllSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, data FROM sessions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var (
			userID string
			data   string
		)
		if err := rows.Scan(&userID, &data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, Snapshot{UserID: userID, Data: []byte(data)})
	}
	return snaps, rows.Err()
}
