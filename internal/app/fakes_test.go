package app

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"nps/api/internal/auth"
	"nps/api/internal/config"
	"nps/api/internal/nps"
	"nps/api/internal/replica"
	"nps/api/internal/store"
)

const testSecret = "test-secret"

type fakeEngine struct {
	getFormsFn  func(context.Context, nps.Requester, string, nps.ProjectType) ([]nps.Form, error)
	getStatusFn func(context.Context, nps.Requester, string, nps.ProjectType) (nps.Status, error)
	submitFn    func(context.Context, nps.Requester, string, nps.ProjectType, []nps.SubmittedResponse) error
}

func (f *fakeEngine) GetForms(ctx context.Context, requester nps.Requester, projectID string, projectType nps.ProjectType) ([]nps.Form, error) {
	if f.getFormsFn != nil {
		return f.getFormsFn(ctx, requester, projectID, projectType)
	}
	return []nps.Form{}, nil
}

func (f *fakeEngine) GetStatus(ctx context.Context, requester nps.Requester, projectID string, projectType nps.ProjectType) (nps.Status, error) {
	if f.getStatusFn != nil {
		return f.getStatusFn(ctx, requester, projectID, projectType)
	}
	return nps.Status{}, nil
}

func (f *fakeEngine) Submit(ctx context.Context, requester nps.Requester, projectID string, projectType nps.ProjectType, responses []nps.SubmittedResponse) error {
	if f.submitFn != nil {
		return f.submitFn(ctx, requester, projectID, projectType, responses)
	}
	return nil
}

type fakeLocker struct {
	acquireFn func(context.Context, string) (func(context.Context) error, error)
	pingFn    func(context.Context) error
	acquired  []string
	released  int
}

func (f *fakeLocker) Acquire(ctx context.Context, name string) (func(context.Context) error, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, name)
	}
	f.acquired = append(f.acquired, name)
	return func(context.Context) error {
		f.released++
		return nil
	}, nil
}

func (f *fakeLocker) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeApplier struct {
	applyFn func(context.Context, replica.Event) (replica.Result, error)
	events  []replica.Event
}

func (f *fakeApplier) Apply(ctx context.Context, event replica.Event) (replica.Result, error) {
	f.events = append(f.events, event)
	if f.applyFn != nil {
		return f.applyFn(ctx, event)
	}
	return replica.Result{Subject: event.Subject, Applied: true}, nil
}

type recordedOutcome struct {
	subject string
	outcome store.ReplicaOutcome
}

type fakeStats struct {
	recordFn func(context.Context, string, store.ReplicaOutcome) error
	listFn   func(context.Context) ([]store.ReplicaEventStat, error)
	recorded []recordedOutcome
}

func (f *fakeStats) RecordReplicaOutcome(ctx context.Context, subject string, outcome store.ReplicaOutcome) error {
	f.recorded = append(f.recorded, recordedOutcome{subject: subject, outcome: outcome})
	if f.recordFn != nil {
		return f.recordFn(ctx, subject, outcome)
	}
	return nil
}

func (f *fakeStats) ReplicaEventStats(ctx context.Context) ([]store.ReplicaEventStat, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return []store.ReplicaEventStat{}, nil
}

type fakePinger struct {
	pingFn func(context.Context) error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestService(engine *fakeEngine) *Service {
	return &Service{
		cfg:     config.Config{JWTSecret: testSecret, SyncToken: "sync-secret"},
		db:      &fakePinger{},
		engine:  engine,
		replica: &fakeApplier{},
		stats:   &fakeStats{},
	}
}

func issueTestToken(t *testing.T, userID, organizationID, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Name:             "Test User",
		OrganizationID:   organizationID,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
