// Package replica keeps the local copies of upstream entities current by
// applying replication events.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nps/api/internal/store"
)

var (
	ErrUnknownSubject = errors.New("unknown event subject")
	ErrInvalidPayload = errors.New("invalid event payload")
)

const (
	SubjectOrganizationTypeCreated = "organization-type.created"
	SubjectOrganizationTypeUpdated = "organization-type.updated"
	SubjectOrganizationCreated     = "organization.created"
	SubjectOrganizationUpdated     = "organization.updated"
	SubjectUserCreated             = "user.created"
	SubjectUserUpdated             = "user.updated"
	SubjectUserDeleted             = "user.deleted"
	SubjectIncidentCreated         = "incident.created"
	SubjectIncidentUpdated         = "incident.updated"
	SubjectIncidentDeleted         = "incident.deleted"
	SubjectIncidentMembersRemoved  = "incident.members-removed"
	SubjectTrackerCreated          = "tracker.created"
	SubjectTrackerUpdated          = "tracker.updated"
	SubjectTrackerDeleted          = "tracker.deleted"
	SubjectTrackerMembersRemoved   = "tracker.members-removed"
)

var knownSubjects = map[string]struct{}{
	SubjectOrganizationTypeCreated: {}, SubjectOrganizationTypeUpdated: {},
	SubjectOrganizationCreated: {}, SubjectOrganizationUpdated: {},
	SubjectUserCreated: {}, SubjectUserUpdated: {}, SubjectUserDeleted: {},
	SubjectIncidentCreated: {}, SubjectIncidentUpdated: {}, SubjectIncidentDeleted: {}, SubjectIncidentMembersRemoved: {},
	SubjectTrackerCreated: {}, SubjectTrackerUpdated: {}, SubjectTrackerDeleted: {}, SubjectTrackerMembersRemoved: {},
}

func KnownSubject(subject string) bool {
	_, ok := knownSubjects[subject]
	return ok
}

type Event struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// Result reports whether an event changed local state. Stale events are
// acknowledged with Applied false.
type Result struct {
	Subject string `json:"subject"`
	ID      string `json:"id"`
	Applied bool   `json:"applied"`
}

type Writer interface {
	UpsertOrganizationType(ctx context.Context, item store.OrganizationType) error
	UpsertOrganization(ctx context.Context, org store.Organization) (bool, error)
	UpsertUser(ctx context.Context, user store.User) (bool, error)
	DeleteUser(ctx context.Context, userID string) (bool, error)
	UpsertIncident(ctx context.Context, incident store.Incident) (bool, error)
	RemoveIncidentMembers(ctx context.Context, incidentID string, userIDs []string, version int) (bool, error)
	DeleteIncident(ctx context.Context, incidentID string) (bool, error)
	UpsertTracker(ctx context.Context, tracker store.Tracker) (bool, error)
	RemoveTrackerMembers(ctx context.Context, trackerID string, userIDs []string, version int) (bool, error)
	DeleteTracker(ctx context.Context, trackerID string) (bool, error)
}

type Applier struct {
	writer Writer
}

func NewApplier(writer Writer) *Applier {
	return &Applier{writer: writer}
}

type organizationTypePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type organizationPayload struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	OrganizationTypeIDs []string `json:"organizationTypeIds"`
	IsEnabled           *bool    `json:"isEnabled"`
	Version             int      `json:"version"`
}

type userPayload struct {
	ID             string  `json:"id"`
	OrganizationID *string `json:"organizationId"`
	FirstName      string  `json:"firstName"`
	LastName       string  `json:"lastName"`
	DisplayName    string  `json:"displayName"`
	Email          string  `json:"email"`
	Version        int     `json:"version"`
}

type projectPayload struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Members            []string `json:"members"`
	ProgressPercentage int      `json:"progressPercentage"`
	Version            int      `json:"version"`
}

type deletedPayload struct {
	ID string `json:"id"`
}

func (p organizationTypePayload) key() string { return p.ID }
func (p organizationPayload) key() string     { return p.ID }
func (p userPayload) key() string             { return p.ID }
func (p projectPayload) key() string          { return p.ID }
func (p deletedPayload) key() string          { return p.ID }

func decode[T interface{ key() string }](event Event) (T, error) {
	var payload T
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event.Subject, err)
	}
	if strings.TrimSpace(payload.key()) == "" {
		return payload, fmt.Errorf("%w: %s: id is required", ErrInvalidPayload, event.Subject)
	}
	return payload, nil
}

func (a *Applier) Apply(ctx context.Context, event Event) (Result, error) {
	result := Result{Subject: event.Subject}
	var err error

	switch event.Subject {
	case SubjectOrganizationTypeCreated, SubjectOrganizationTypeUpdated:
		payload, decodeErr := decode[organizationTypePayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		if err = a.writer.UpsertOrganizationType(ctx, store.OrganizationType{ID: payload.ID, Name: payload.Name}); err == nil {
			result.Applied = true
		}

	case SubjectOrganizationCreated, SubjectOrganizationUpdated:
		payload, decodeErr := decode[organizationPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		enabled := true
		if payload.IsEnabled != nil {
			enabled = *payload.IsEnabled
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.UpsertOrganization(ctx, store.Organization{
			ID:                  payload.ID,
			Name:                payload.Name,
			OrganizationTypeIDs: payload.OrganizationTypeIDs,
			IsEnabled:           enabled,
			Version:             payload.Version,
		})

	case SubjectUserCreated, SubjectUserUpdated:
		payload, decodeErr := decode[userPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.UpsertUser(ctx, store.User{
			ID:             payload.ID,
			OrganizationID: payload.OrganizationID,
			FirstName:      payload.FirstName,
			LastName:       payload.LastName,
			DisplayName:    payload.DisplayName,
			Email:          payload.Email,
			Version:        payload.Version,
		})

	case SubjectUserDeleted:
		payload, decodeErr := decode[deletedPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.DeleteUser(ctx, payload.ID)

	case SubjectIncidentCreated, SubjectIncidentUpdated:
		payload, decodeErr := decode[projectPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.UpsertIncident(ctx, store.Incident{
			ID:                 payload.ID,
			Name:               payload.Name,
			Members:            payload.Members,
			ProgressPercentage: payload.ProgressPercentage,
			Version:            payload.Version,
		})

	case SubjectIncidentMembersRemoved:
		payload, decodeErr := decode[projectPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.RemoveIncidentMembers(ctx, payload.ID, payload.Members, payload.Version)

	case SubjectIncidentDeleted:
		payload, decodeErr := decode[deletedPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.DeleteIncident(ctx, payload.ID)

	case SubjectTrackerCreated, SubjectTrackerUpdated:
		payload, decodeErr := decode[projectPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.UpsertTracker(ctx, store.Tracker{
			ID:      payload.ID,
			Name:    payload.Name,
			Members: payload.Members,
			Version: payload.Version,
		})

	case SubjectTrackerMembersRemoved:
		payload, decodeErr := decode[projectPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.RemoveTrackerMembers(ctx, payload.ID, payload.Members, payload.Version)

	case SubjectTrackerDeleted:
		payload, decodeErr := decode[deletedPayload](event)
		if decodeErr != nil {
			return result, decodeErr
		}
		result.ID = payload.ID
		result.Applied, err = a.writer.DeleteTracker(ctx, payload.ID)

	default:
		return result, fmt.Errorf("%w: %q", ErrUnknownSubject, event.Subject)
	}

	if err != nil {
		return result, fmt.Errorf("apply %s %s: %w", event.Subject, result.ID, err)
	}
	return result, nil
}
