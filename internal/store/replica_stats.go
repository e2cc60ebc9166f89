package store

import (
	"context"
	"fmt"
	"time"
)

type ReplicaOutcome string

const (
	ReplicaApplied ReplicaOutcome = "applied"
	ReplicaIgnored ReplicaOutcome = "ignored"
	ReplicaFailed  ReplicaOutcome = "failed"
)

// ReplicaEventStat counts replication events per subject.
type ReplicaEventStat struct {
	Subject     string    `json:"subject"`
	Applied     int64     `json:"applied"`
	Ignored     int64     `json:"ignored"`
	Failed      int64     `json:"failed"`
	LastEventAt time.Time `json:"lastEventAt"`
}

func (s *PostgresStore) RecordReplicaOutcome(ctx context.Context, subject string, outcome ReplicaOutcome) error {
	var column string
	switch outcome {
	case ReplicaApplied:
		column = "applied"
	case ReplicaIgnored:
		column = "ignored"
	case ReplicaFailed:
		column = "failed"
	default:
		return fmt.Errorf("unknown replica outcome %q", outcome)
	}
	query := fmt.Sprintf(`
		INSERT INTO replica_event_stats (subject, %[1]s, last_event_at) VALUES ($1, 1, NOW())
		ON CONFLICT (subject) DO UPDATE
		SET %[1]s=replica_event_stats.%[1]s + 1, last_event_at=NOW()
	`, column)
	if _, err := s.db.ExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("record replica outcome: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReplicaEventStats(ctx context.Context) ([]ReplicaEventStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, applied, ignored, failed, last_event_at
		FROM replica_event_stats
		ORDER BY subject
	`)
	if err != nil {
		return nil, fmt.Errorf("list replica event stats: %w", err)
	}
	defer rows.Close()

	items := make([]ReplicaEventStat, 0)
	for rows.Next() {
		var item ReplicaEventStat
		if err := rows.Scan(&item.Subject, &item.Applied, &item.Ignored, &item.Failed, &item.LastEventAt); err != nil {
			return nil, fmt.Errorf("scan replica event stat: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replica event stats: %w", err)
	}
	return items, nil
}
