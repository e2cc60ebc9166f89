package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	ProjectTypeIncident   = "Incident"
	ProjectTypeResilience = "Resilience"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) FindOrganization(ctx context.Context, organizationID string) (Organization, error) {
	types := pgtype.NewMap()
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, organization_type_ids, is_enabled, version
		FROM organizations
		WHERE id=$1
	`, organizationID).Scan(&org.ID, &org.Name, types.SQLScanner(&org.OrganizationTypeIDs), &org.IsEnabled, &org.Version)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) FindOrganizationsByIDs(ctx context.Context, ids []string) ([]Organization, error) {
	if len(ids) == 0 {
		return []Organization{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, organization_type_ids, is_enabled, version
		FROM organizations
		WHERE id = ANY($1)
		ORDER BY array_position($1, id)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	types := pgtype.NewMap()
	items := make([]Organization, 0, len(ids))
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, types.SQLScanner(&org.OrganizationTypeIDs), &org.IsEnabled, &org.Version); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FindOrganizationTypes(ctx context.Context, ids []string) ([]OrganizationType, error) {
	if len(ids) == 0 {
		return []OrganizationType{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM organization_types WHERE id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return nil, fmt.Errorf("list organization types: %w", err)
	}
	defer rows.Close()

	items := make([]OrganizationType, 0, len(ids))
	for rows.Next() {
		var item OrganizationType
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan organization type: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organization types: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FindUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, first_name, last_name, display_name, email, version
		FROM users
		WHERE id = ANY($1)
		ORDER BY array_position($1, id)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0, len(ids))
	for rows.Next() {
		var user User
		var organizationID sql.NullString
		if err := rows.Scan(&user.ID, &organizationID, &user.FirstName, &user.LastName, &user.DisplayName, &user.Email, &user.Version); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if organizationID.Valid {
			user.OrganizationID = &organizationID.String
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// FindProjectMembership returns sql.ErrNoRows when the project is absent.
func (s *PostgresStore) FindProjectMembership(ctx context.Context, projectType, projectID string) (ProjectMembership, error) {
	types := pgtype.NewMap()
	membership := ProjectMembership{ProjectType: projectType, ProjectID: projectID}
	switch projectType {
	case ProjectTypeIncident:
		var progress int
		err := s.db.QueryRowContext(ctx, `SELECT members, progress_percentage FROM incidents WHERE id=$1`, projectID).
			Scan(types.SQLScanner(&membership.Members), &progress)
		if err != nil {
			return ProjectMembership{}, err
		}
		membership.ProgressPercentage = &progress
	case ProjectTypeResilience:
		err := s.db.QueryRowContext(ctx, `SELECT members FROM trackers WHERE id=$1`, projectID).
			Scan(types.SQLScanner(&membership.Members))
		if err != nil {
			return ProjectMembership{}, err
		}
	default:
		return ProjectMembership{}, fmt.Errorf("unknown project type %q", projectType)
	}
	return membership, nil
}

func (s *PostgresStore) FindRespondentMapsByTypes(ctx context.Context, respondentTypes []string) ([]RespondentQuestionsMap, error) {
	if len(respondentTypes) == 0 {
		return []RespondentQuestionsMap{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, respondent_type, priority, witnesses
		FROM respondent_questions_maps
		WHERE respondent_type = ANY($1)
		ORDER BY created_at, id
	`, respondentTypes)
	if err != nil {
		return nil, fmt.Errorf("list respondent maps: %w", err)
	}
	defer rows.Close()

	items := make([]RespondentQuestionsMap, 0)
	for rows.Next() {
		var item RespondentQuestionsMap
		var witnesses []byte
		if err := rows.Scan(&item.ID, &item.RespondentType, &item.Priority, &witnesses); err != nil {
			return nil, fmt.Errorf("scan respondent map: %w", err)
		}
		if err := json.Unmarshal(witnesses, &item.Witnesses); err != nil {
			return nil, fmt.Errorf("decode witnesses of %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate respondent maps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FindQuestionsByIDs(ctx context.Context, ids []string) ([]Question, error) {
	if len(ids) == 0 {
		return []Question{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, type, required, placeholders
		FROM questions
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	types := pgtype.NewMap()
	items := make([]Question, 0, len(ids))
	for rows.Next() {
		var item Question
		if err := rows.Scan(&item.ID, &item.Title, &item.Type, &item.Required, types.SQLScanner(&item.Placeholders)); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FindAllPlaceholders(ctx context.Context) ([]QuestionPlaceholder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM question_placeholders`)
	if err != nil {
		return nil, fmt.Errorf("list placeholders: %w", err)
	}
	defer rows.Close()

	items := make([]QuestionPlaceholder, 0)
	for rows.Next() {
		var item QuestionPlaceholder
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan placeholder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placeholders: %w", err)
	}
	return items, nil
}

// LoadUserResponse returns nil without error when the user has not
// submitted anything for the project yet.
func (s *PostgresStore) LoadUserResponse(ctx context.Context, userID, projectID string) (*Response, error) {
	types := pgtype.NewMap()
	var response Response
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, project_id, completed, witnesses, version, created_at, updated_at
		FROM responses
		WHERE user_id=$1 AND project_id=$2
	`, userID, projectID).Scan(
		&response.ID,
		&response.UserID,
		&response.ProjectID,
		&response.Completed,
		types.SQLScanner(&response.WitnessIDs),
		&response.Version,
		&response.CreatedAt,
		&response.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load response: %w", err)
	}

	witnesses, err := s.listResponseWitnesses(ctx, response.WitnessIDs)
	if err != nil {
		return nil, err
	}
	response.Witnesses = witnesses
	return &response, nil
}

func (s *PostgresStore) listResponseWitnesses(ctx context.Context, ids []string) ([]ResponseWitness, error) {
	if len(ids) == 0 {
		return []ResponseWitness{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, skipped, responses, version, updated_at
		FROM response_witnesses
		WHERE id = ANY($1)
		ORDER BY array_position($1, id)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list response witnesses: %w", err)
	}
	defer rows.Close()

	items := make([]ResponseWitness, 0, len(ids))
	for rows.Next() {
		var item ResponseWitness
		var answers []byte
		if err := rows.Scan(&item.ID, &item.OrganizationID, &item.Skipped, &answers, &item.Version, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan response witness: %w", err)
		}
		if answers != nil {
			if err := json.Unmarshal(answers, &item.Responses); err != nil {
				return nil, fmt.Errorf("decode answers of %s: %w", item.ID, err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response witnesses: %w", err)
	}
	return items, nil
}

// CommitSubmission writes the Response row and its witness rows in one
// transaction. The Response row goes first so a stale ExpectedVersion, or a
// concurrent first insert for the same (user, project), yields ErrConflict
// before any witness row is touched. Nothing is persisted on error.
func (s *PostgresStore) CommitSubmission(ctx context.Context, submission Submission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submission tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if submission.ExpectedVersion == 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO responses (id, user_id, project_id, completed, witnesses)
			VALUES ($1, $2, $3, $4, $5)
		`, submission.ResponseID, submission.UserID, submission.ProjectID, submission.Completed, submission.WitnessIDs)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert response: %w", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE responses
			SET completed=$3, witnesses=$4, version=version+1, updated_at=NOW()
			WHERE id=$1 AND version=$2
		`, submission.ResponseID, submission.ExpectedVersion, submission.Completed, submission.WitnessIDs)
		if err != nil {
			return fmt.Errorf("update response: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("update response rows: %w", err)
		} else if affected == 0 {
			return ErrConflict
		}
	}

	for _, witness := range submission.Updated {
		answers, err := encodeAnswers(witness.Responses)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE response_witnesses
			SET skipped=$2, responses=$3::jsonb, version=version+1, updated_at=NOW()
			WHERE id=$1 AND version=$4
		`, witness.ID, witness.Skipped, answers, witness.Version)
		if err != nil {
			return fmt.Errorf("update response witness %s: %w", witness.ID, err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("update response witness rows: %w", err)
		} else if affected == 0 {
			return ErrConflict
		}
	}

	for _, witness := range submission.Created {
		answers, err := encodeAnswers(witness.Responses)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO response_witnesses (id, organization_id, skipped, responses)
			VALUES ($1, $2, $3, $4::jsonb)
		`, witness.ID, witness.OrganizationID, witness.Skipped, answers); err != nil {
			return fmt.Errorf("insert response witness: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

func encodeAnswers(answers []Answer) (any, error) {
	if answers == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	return string(encoded), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
