package store

import (
	"context"
	"fmt"
)

// Replica writes apply events from the upstream services. Each upsert only
// overwrites a row whose stored version is older than the incoming one, so
// redelivered or reordered events are harmless.

func (s *PostgresStore) UpsertOrganizationType(ctx context.Context, item OrganizationType) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_types (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name
	`, item.ID, item.Name); err != nil {
		return fmt.Errorf("upsert organization type: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertOrganization(ctx context.Context, org Organization) (bool, error) {
	typeIDs := org.OrganizationTypeIDs
	if typeIDs == nil {
		typeIDs = []string{}
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, organization_type_ids, is_enabled, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name,
			organization_type_ids=EXCLUDED.organization_type_ids,
			is_enabled=EXCLUDED.is_enabled,
			version=EXCLUDED.version
		WHERE organizations.version < EXCLUDED.version
	`, org.ID, org.Name, typeIDs, org.IsEnabled, org.Version)
	if err != nil {
		return false, fmt.Errorf("upsert organization: %w", err)
	}
	return applied(result)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, organization_id, first_name, last_name, display_name, email, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET organization_id=EXCLUDED.organization_id,
			first_name=EXCLUDED.first_name,
			last_name=EXCLUDED.last_name,
			display_name=EXCLUDED.display_name,
			email=EXCLUDED.email,
			version=EXCLUDED.version
		WHERE users.version < EXCLUDED.version
	`, user.ID, user.OrganizationID, user.FirstName, user.LastName, user.DisplayName, user.Email, user.Version)
	if err != nil {
		return false, fmt.Errorf("upsert user: %w", err)
	}
	return applied(result)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return applied(result)
}

func (s *PostgresStore) UpsertIncident(ctx context.Context, incident Incident) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, name, members, progress_percentage, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name,
			members=EXCLUDED.members,
			progress_percentage=EXCLUDED.progress_percentage,
			version=EXCLUDED.version
		WHERE incidents.version < EXCLUDED.version
	`, incident.ID, incident.Name, nonNil(incident.Members), incident.ProgressPercentage, incident.Version)
	if err != nil {
		return false, fmt.Errorf("upsert incident: %w", err)
	}
	return applied(result)
}

// RemoveIncidentMembers drops the given users from the member list when the
// event version is newer than the stored one.
func (s *PostgresStore) RemoveIncidentMembers(ctx context.Context, incidentID string, userIDs []string, version int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE incidents
		SET members=ARRAY(SELECT m FROM unnest(members) AS m WHERE NOT (m = ANY($2))),
			version=$3
		WHERE id=$1 AND version < $3
	`, incidentID, nonNil(userIDs), version)
	if err != nil {
		return false, fmt.Errorf("remove incident members: %w", err)
	}
	return applied(result)
}

func (s *PostgresStore) DeleteIncident(ctx context.Context, incidentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE id=$1`, incidentID)
	if err != nil {
		return false, fmt.Errorf("delete incident: %w", err)
	}
	return applied(result)
}

func (s *PostgresStore) UpsertTracker(ctx context.Context, tracker Tracker) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO trackers (id, name, members, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name,
			members=EXCLUDED.members,
			version=EXCLUDED.version
		WHERE trackers.version < EXCLUDED.version
	`, tracker.ID, tracker.Name, nonNil(tracker.Members), tracker.Version)
	if err != nil {
		return false, fmt.Errorf("upsert tracker: %w", err)
	}
	return applied(result)
}

func (s *PostgresStore) RemoveTrackerMembers(ctx context.Context, trackerID string, userIDs []string, version int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE trackers
		SET members=ARRAY(SELECT m FROM unnest(members) AS m WHERE NOT (m = ANY($2))),
			version=$3
		WHERE id=$1 AND version < $3
	`, trackerID, nonNil(userIDs), version)
	if err != nil {
		return false, fmt.Errorf("remove tracker members: %w", err)
	}
	return applied(result)
}

func (s *PostgresStore) DeleteTracker(ctx context.Context, trackerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM trackers WHERE id=$1`, trackerID)
	if err != nil {
		return false, fmt.Errorf("delete tracker: %w", err)
	}
	return applied(result)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func applied(result rowsAffecter) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
