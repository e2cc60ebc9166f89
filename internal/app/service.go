package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"nps/api/internal/auth"
	"nps/api/internal/config"
	"nps/api/internal/lock"
	"nps/api/internal/nps"
	"nps/api/internal/rbac"
	"nps/api/internal/replica"
	"nps/api/internal/store"
)

type Session struct {
	UserID         string
	UserName       string
	OrganizationID string
	Role           string
	ExpiresAt      time.Time
}

func (s Session) requester() nps.Requester {
	return nps.Requester{UserID: s.UserID, OrganizationID: s.OrganizationID}
}

type feedbackEngine interface {
	GetForms(context.Context, nps.Requester, string, nps.ProjectType) ([]nps.Form, error)
	GetStatus(context.Context, nps.Requester, string, nps.ProjectType) (nps.Status, error)
	Submit(context.Context, nps.Requester, string, nps.ProjectType, []nps.SubmittedResponse) error
}

type submissionLocker interface {
	Acquire(context.Context, string) (func(context.Context) error, error)
	Ping(context.Context) error
}

type replicaApplier interface {
	Apply(context.Context, replica.Event) (replica.Result, error)
}

type replicaStats interface {
	RecordReplicaOutcome(context.Context, string, store.ReplicaOutcome) error
	ReplicaEventStats(context.Context) ([]store.ReplicaEventStat, error)
}

type pinger interface {
	Ping(context.Context) error
}

type Service struct {
	cfg     config.Config
	db      pinger
	engine  feedbackEngine
	locker  submissionLocker
	replica replicaApplier
	stats   replicaStats
}

// New wires the engine and the replica applier onto the Postgres store.
// locker may be nil, in which case submissions rely on the store's version
// check alone.
func New(cfg config.Config, dataStore *store.PostgresStore, locker *lock.RedisLocker) *Service {
	service := &Service{
		cfg:     cfg,
		db:      dataStore,
		engine:  nps.NewEngine(dataStore, nps.WithFeedbackThreshold(cfg.FeedbackThreshold)),
		replica: replica.NewApplier(dataStore),
		stats:   dataStore,
	}
	if locker != nil {
		service.locker = locker
	}
	return service
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		UserID:         claims.UserID(),
		UserName:       claims.Name,
		OrganizationID: claims.OrganizationID,
		Role:           string(rbac.Normalize(claims.Role)),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) authorize(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return nps.ErrForbidden
	}
	return nil
}

func (s *Service) GetForms(ctx context.Context, session Session, projectID string, projectType nps.ProjectType) ([]nps.Form, error) {
	if err := s.authorize(session, rbac.ActionGetNPSFormsData); err != nil {
		return nil, err
	}
	return s.engine.GetForms(ctx, session.requester(), projectID, projectType)
}

func (s *Service) GetStatus(ctx context.Context, session Session, projectID string, projectType nps.ProjectType) (nps.Status, error) {
	if err := s.authorize(session, rbac.ActionGetNPSStatus); err != nil {
		return nps.Status{}, err
	}
	return s.engine.GetStatus(ctx, session.requester(), projectID, projectType)
}

// Submit serialises submissions per (user, project) when a locker is
// configured and retries once when the stored Response moved underneath.
func (s *Service) Submit(ctx context.Context, session Session, projectID string, projectType nps.ProjectType, responses []nps.SubmittedResponse) error {
	if err := s.authorize(session, rbac.ActionSubmitNPSResponses); err != nil {
		return err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, submitLockKey(session.UserID, projectID))
		if err != nil {
			return err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Printf("lock: release %s: %v", submitLockKey(session.UserID, projectID), err)
			}
		}()
	}

	err := s.engine.Submit(ctx, session.requester(), projectID, projectType, responses)
	if errors.Is(err, nps.ErrConflict) {
		log.Printf("nps: submission conflict user=%s project=%s, retrying", session.UserID, projectID)
		err = s.engine.Submit(ctx, session.requester(), projectID, projectType, responses)
	}
	return err
}

func submitLockKey(userID, projectID string) string {
	return fmt.Sprintf("nps:submit:%s:%s", userID, projectID)
}

// ApplyReplicaEvents applies events in order and stops at the first failure.
// Every outcome is counted per subject; unknown subjects count under
// "unknown".
func (s *Service) ApplyReplicaEvents(ctx context.Context, events []replica.Event) ([]replica.Result, error) {
	results := make([]replica.Result, 0, len(events))
	for _, event := range events {
		result, err := s.replica.Apply(ctx, event)
		if err != nil {
			s.recordReplicaOutcome(ctx, event.Subject, store.ReplicaFailed)
			return results, err
		}
		outcome := store.ReplicaApplied
		if !result.Applied {
			outcome = store.ReplicaIgnored
			log.Printf("replica: ignored %s %s", result.Subject, result.ID)
		}
		s.recordReplicaOutcome(ctx, event.Subject, outcome)
		results = append(results, result)
	}
	return results, nil
}

func (s *Service) recordReplicaOutcome(ctx context.Context, subject string, outcome store.ReplicaOutcome) {
	if !replica.KnownSubject(subject) {
		subject = "unknown"
	}
	if err := s.stats.RecordReplicaOutcome(ctx, subject, outcome); err != nil {
		log.Printf("replica: record %s outcome for %s: %v", outcome, subject, err)
	}
}

func (s *Service) ReplicaEventStats(ctx context.Context, session Session) ([]store.ReplicaEventStat, error) {
	if err := s.authorize(session, rbac.ActionGetEventLogStatistics); err != nil {
		return nil, err
	}
	return s.stats.ReplicaEventStats(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// PingLock returns false when no locker is configured.
func (s *Service) PingLock(ctx context.Context) (bool, error) {
	if s.locker == nil {
		return false, nil
	}
	return true, s.locker.Ping(ctx)
}
