package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stats summarizes the store for status displays.
type Stats struct {
	Paths            int       `json:"paths"`
	Contents         int       `json:"contents"`
	PendingSnapshots int       `json:"pending_snapshots"`
	DatabaseSize     string    `json:"database_size"`
	LastActivity     time.Time `json:"last_activity"`
}

// Stats gathers store-wide counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paths`).Scan(&st.Paths); err != nil {
		return nil, fmt.Errorf("failed to count paths: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contents`).Scan(&st.Contents); err != nil {
		return nil, fmt.Errorf("failed to count contents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE status = ?`, StatusPending).Scan(&st.PendingSnapshots); err != nil {
		return nil, fmt.Errorf("failed to count snapshots: %w", err)
	}

	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM paths`).Scan(&last); err == nil && last.Valid {
		st.LastActivity = last.Time
	}

	st.DatabaseSize = "unknown"
	if info, err := os.Stat(filepath.Join(s.dataDir, "engram.db")); err == nil {
		st.DatabaseSize = formatSize(info.Size())
	}
	return st, nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
