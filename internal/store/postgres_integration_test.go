package store

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"
)

func openMigratedStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := testDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsFS()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestCommitSubmissionVersioning(t *testing.T) {
	s := openMigratedStore(t)
	ctx := context.Background()

	first := Submission{
		ResponseID: "resp-1",
		UserID:     "u-1",
		ProjectID:  "inc-1",
		Completed:  false,
		WitnessIDs: []string{"w-1"},
		Created: []ResponseWitness{{
			ID:             "w-1",
			OrganizationID: "org-1",
			Responses:      []Answer{{QuestionID: "q-1", Value: float64(9)}},
		}},
	}
	if err := s.CommitSubmission(ctx, first); err != nil {
		t.Fatalf("commit first submission: %v", err)
	}

	racingFirst := first
	racingFirst.ResponseID = "resp-1b"
	racingFirst.WitnessIDs = []string{"w-1b"}
	racingFirst.Created = []ResponseWitness{{ID: "w-1b", OrganizationID: "org-1"}}
	if err := s.CommitSubmission(ctx, racingFirst); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a second first insert, got %v", err)
	}

	response, err := s.LoadUserResponse(ctx, "u-1", "inc-1")
	if err != nil {
		t.Fatalf("load response: %v", err)
	}
	if response == nil || response.Version != 1 || response.Completed {
		t.Fatalf("unexpected response after first commit: %+v", response)
	}
	if len(response.Witnesses) != 1 || response.Witnesses[0].OrganizationID != "org-1" {
		t.Fatalf("unexpected witnesses: %+v", response.Witnesses)
	}
	if !reflect.DeepEqual(response.Witnesses[0].Responses, []Answer{{QuestionID: "q-1", Value: float64(9)}}) {
		t.Fatalf("unexpected answers: %+v", response.Witnesses[0].Responses)
	}

	second := Submission{
		ResponseID:      response.ID,
		UserID:          "u-1",
		ProjectID:       "inc-1",
		ExpectedVersion: response.Version,
		Completed:       true,
		WitnessIDs:      []string{"w-1", "w-2"},
		Created:         []ResponseWitness{{ID: "w-2", OrganizationID: "org-2", Skipped: true}},
	}
	if err := s.CommitSubmission(ctx, second); err != nil {
		t.Fatalf("commit second submission: %v", err)
	}
	staleSecond := second
	staleSecond.WitnessIDs = []string{"w-1", "w-2b"}
	staleSecond.Created = []ResponseWitness{{ID: "w-2b", OrganizationID: "org-2", Skipped: true}}
	if err := s.CommitSubmission(ctx, staleSecond); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
	if n := countWitnessRows(t, s, "w-1b", "w-2b"); n != 0 {
		t.Fatalf("expected rejected commits to leave no witness rows, found %d", n)
	}

	response, err = s.LoadUserResponse(ctx, "u-1", "inc-1")
	if err != nil {
		t.Fatalf("reload response: %v", err)
	}
	if !response.Completed || response.Version != 2 {
		t.Fatalf("expected completed response at version 2, got %+v", response)
	}
	if len(response.Witnesses) != 2 || !response.Witnesses[1].Skipped || response.Witnesses[1].Responses != nil {
		t.Fatalf("unexpected witnesses after second commit: %+v", response.Witnesses)
	}
}

func countWitnessRows(t *testing.T, s *PostgresStore, ids ...string) int {
	t.Helper()
	var count int
	if err := s.DB().QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM response_witnesses WHERE id = ANY($1)`, ids).Scan(&count); err != nil {
		t.Fatalf("count witness rows: %v", err)
	}
	return count
}

func TestCommitSubmissionRejectsConcurrentFirstInsert(t *testing.T) {
	s := openMigratedStore(t)
	ctx := context.Background()

	snapshot, err := s.LoadUserResponse(ctx, "u-1", "inc-1")
	if err != nil || snapshot != nil {
		t.Fatalf("expected empty snapshot, got %+v err=%v", snapshot, err)
	}

	build := func(responseID, witnessID, orgID string) Submission {
		return Submission{
			ResponseID: responseID,
			UserID:     "u-1",
			ProjectID:  "inc-1",
			WitnessIDs: []string{witnessID},
			Created:    []ResponseWitness{{ID: witnessID, OrganizationID: orgID, Skipped: true}},
		}
	}
	if err := s.CommitSubmission(ctx, build("resp-a", "w-a", "org-1")); err != nil {
		t.Fatalf("commit first writer: %v", err)
	}
	if err := s.CommitSubmission(ctx, build("resp-b", "w-b", "org-2")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second writer, got %v", err)
	}

	if n := countWitnessRows(t, s, "w-b"); n != 0 {
		t.Fatalf("expected no witness rows from the losing writer, found %d", n)
	}
	response, err := s.LoadUserResponse(ctx, "u-1", "inc-1")
	if err != nil {
		t.Fatalf("load response: %v", err)
	}
	if response.ID != "resp-a" || !reflect.DeepEqual(response.WitnessIDs, []string{"w-a"}) {
		t.Fatalf("unexpected response after race: %+v", response)
	}
}

func TestCommitSubmissionRejectsStaleSnapshot(t *testing.T) {
	s := openMigratedStore(t)
	ctx := context.Background()

	if err := s.CommitSubmission(ctx, Submission{
		ResponseID: "resp-1",
		UserID:     "u-1",
		ProjectID:  "inc-1",
		WitnessIDs: []string{"w-1"},
		Created:    []ResponseWitness{{ID: "w-1", OrganizationID: "org-1", Responses: []Answer{{QuestionID: "q-1", Value: float64(4)}}}},
	}); err != nil {
		t.Fatalf("seed response: %v", err)
	}

	snapshot, err := s.LoadUserResponse(ctx, "u-1", "inc-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	build := func(witnessID, orgID string, score float64) Submission {
		stored := snapshot.Witnesses[0]
		stored.Responses = []Answer{{QuestionID: "q-1", Value: score}}
		return Submission{
			ResponseID:      snapshot.ID,
			UserID:          "u-1",
			ProjectID:       "inc-1",
			ExpectedVersion: snapshot.Version,
			WitnessIDs:      []string{"w-1", witnessID},
			Updated:         []ResponseWitness{stored},
			Created:         []ResponseWitness{{ID: witnessID, OrganizationID: orgID, Skipped: true}},
		}
	}

	if err := s.CommitSubmission(ctx, build("w-2", "org-2", 7)); err != nil {
		t.Fatalf("commit first writer: %v", err)
	}
	if err := s.CommitSubmission(ctx, build("w-3", "org-3", 2)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale snapshot, got %v", err)
	}

	if n := countWitnessRows(t, s, "w-3"); n != 0 {
		t.Fatalf("expected no witness rows from the stale writer, found %d", n)
	}
	response, err := s.LoadUserResponse(ctx, "u-1", "inc-1")
	if err != nil {
		t.Fatalf("reload response: %v", err)
	}
	if response.Version != snapshot.Version+1 || !reflect.DeepEqual(response.WitnessIDs, []string{"w-1", "w-2"}) {
		t.Fatalf("unexpected response after stale write: %+v", response)
	}
	if got := response.Witnesses[0].Responses; !reflect.DeepEqual(got, []Answer{{QuestionID: "q-1", Value: float64(7)}}) {
		t.Fatalf("expected the first writer's answers to stand, got %+v", got)
	}
}

func TestLoadUserResponseMissingReturnsNil(t *testing.T) {
	s := openMigratedStore(t)
	response, err := s.LoadUserResponse(context.Background(), "nobody", "nothing")
	if err != nil {
		t.Fatalf("load response: %v", err)
	}
	if response != nil {
		t.Fatalf("expected nil response, got %+v", response)
	}
}

func TestReplicaUpsertsIgnoreStaleVersions(t *testing.T) {
	s := openMigratedStore(t)
	ctx := context.Background()

	applied, err := s.UpsertIncident(ctx, Incident{ID: "inc-1", Members: []string{"u-1", "u-2"}, ProgressPercentage: 90, Version: 2})
	if err != nil || !applied {
		t.Fatalf("initial upsert: applied=%v err=%v", applied, err)
	}
	applied, err = s.UpsertIncident(ctx, Incident{ID: "inc-1", Members: []string{"u-9"}, ProgressPercentage: 10, Version: 1})
	if err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	if applied {
		t.Fatal("expected stale upsert to be ignored")
	}

	applied, err = s.RemoveIncidentMembers(ctx, "inc-1", []string{"u-2"}, 3)
	if err != nil || !applied {
		t.Fatalf("remove members: applied=%v err=%v", applied, err)
	}

	membership, err := s.FindProjectMembership(ctx, ProjectTypeIncident, "inc-1")
	if err != nil {
		t.Fatalf("find membership: %v", err)
	}
	if !reflect.DeepEqual(membership.Members, []string{"u-1"}) {
		t.Fatalf("unexpected members: %v", membership.Members)
	}
	if membership.ProgressPercentage == nil || *membership.ProgressPercentage != 90 {
		t.Fatalf("unexpected progress: %v", membership.ProgressPercentage)
	}

	if _, err := s.FindProjectMembership(ctx, ProjectTypeResilience, "inc-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing tracker, got %v", err)
	}
}

func TestFindOrganizationsByIDsPreservesOrder(t *testing.T) {
	s := openMigratedStore(t)
	ctx := context.Background()

	for i, org := range []Organization{
		{ID: "org-a", Name: "Alpha", OrganizationTypeIDs: []string{"t-1"}, IsEnabled: true, Version: 1},
		{ID: "org-b", Name: "Beta", OrganizationTypeIDs: []string{"t-1", "t-2"}, IsEnabled: true, Version: 1},
	} {
		if _, err := s.UpsertOrganization(ctx, org); err != nil {
			t.Fatalf("upsert organization %d: %v", i, err)
		}
	}

	orgs, err := s.FindOrganizationsByIDs(ctx, []string{"org-b", "org-missing", "org-a"})
	if err != nil {
		t.Fatalf("find organizations: %v", err)
	}
	if len(orgs) != 2 || orgs[0].ID != "org-b" || orgs[1].ID != "org-a" {
		t.Fatalf("unexpected organizations: %+v", orgs)
	}
	if !reflect.DeepEqual(orgs[0].OrganizationTypeIDs, []string{"t-1", "t-2"}) {
		t.Fatalf("unexpected type ids: %v", orgs[0].OrganizationTypeIDs)
	}
}

func TestReplicaEventStatsCountOutcomesPerSubject(t *testing.T) {
	s := openMigratedStore(t)
	ctx := context.Background()

	for _, outcome := range []ReplicaOutcome{ReplicaApplied, ReplicaApplied, ReplicaIgnored} {
		if err := s.RecordReplicaOutcome(ctx, "user.created", outcome); err != nil {
			t.Fatalf("record %s: %v", outcome, err)
		}
	}
	if err := s.RecordReplicaOutcome(ctx, "incident.updated", ReplicaFailed); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := s.RecordReplicaOutcome(ctx, "user.created", ReplicaOutcome("lost")); err == nil {
		t.Fatal("expected an unknown outcome to be rejected")
	}

	stats, err := s.ReplicaEventStats(ctx)
	if err != nil {
		t.Fatalf("list stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected two subjects, got %+v", stats)
	}
	if got := stats[0]; got.Subject != "incident.updated" || got.Failed != 1 || got.Applied != 0 {
		t.Fatalf("unexpected incident stats %+v", got)
	}
	if got := stats[1]; got.Subject != "user.created" || got.Applied != 2 || got.Ignored != 1 || got.Failed != 0 {
		t.Fatalf("unexpected user stats %+v", got)
	}
}
