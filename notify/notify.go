// Package notify fans lifecycle events out to the people who need to
// hear about them. A static routing table maps each transition kind to
// the roles it concerns; delivery goes through a pluggable Notifier with
// per-recipient rate limiting so a chatty contractor cannot flood a
// landlord's phone.
package notify

import (
	"context"
	"fmt"

	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

// Role names a notification recipient's relationship to the job.
type Role string

const (
	RoleLandlord   Role = "landlord"
	RoleTenant     Role = "tenant"
	RoleContractor Role = "contractor"
)

// Notification is one message for one recipient.
type Notification struct {
	Recipient id.ID
	Role      Role
	JobID     id.JobID
	Event     job.Kind
	Title     string
	Body      string
}

// Notifier delivers notifications. Implementations push to mail, SMS,
// mobile push, or tests.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// routes maps each transition kind to the roles notified about it. The
// acting party is never notified of their own action; Build skips
// recipients matching the actor.
var routes = map[job.Kind][]Role{
	job.KindAccept:   {RoleLandlord},
	job.KindDecline:  {RoleLandlord},
	job.KindRelease:  {RoleLandlord},
	job.KindCancel:   {RoleContractor, RoleTenant},
	job.KindStart:    {RoleLandlord, RoleTenant},
	job.KindBlock:    {RoleLandlord},
	job.KindResume:   {RoleLandlord},
	job.KindComplete: {RoleLandlord, RoleTenant},
}

// progressRoutes lists who hears about non-final progress appends.
var progressRoutes = []Role{RoleLandlord}

// Build computes the notifications a committed transition produces.
func Build(j *job.Job, change job.StatusChange) []Notification {
	roles, ok := routes[change.Kind]
	if !ok {
		return nil
	}

	out := make([]Notification, 0, len(roles))
	for _, role := range roles {
		recipient := recipientFor(j, role)
		if recipient.IsNil() || recipient.String() == change.ActorID.String() {
			continue
		}
		out = append(out, Notification{
			Recipient: recipient,
			Role:      role,
			JobID:     j.ID,
			Event:     change.Kind,
			Title:     j.Title,
			Body:      bodyFor(j, change),
		})
	}
	return out
}

// BuildProgress computes the notifications for a non-final progress
// append.
func BuildProgress(j *job.Job, entry job.ProgressEntry) []Notification {
	out := make([]Notification, 0, len(progressRoutes))
	for _, role := range progressRoutes {
		recipient := recipientFor(j, role)
		if recipient.IsNil() || recipient.String() == entry.AuthorID.String() {
			continue
		}
		out = append(out, Notification{
			Recipient: recipient,
			Role:      role,
			JobID:     j.ID,
			Event:     "progress",
			Title:     j.Title,
			Body:      fmt.Sprintf("Progress on %q: %d%% — %s", j.Title, entry.PercentComplete, entry.Message),
		})
	}
	return out
}

func recipientFor(j *job.Job, role Role) id.ID {
	switch role {
	case RoleLandlord:
		return j.LandlordID
	case RoleTenant:
		return j.TenantID
	case RoleContractor:
		return j.ContractorID
	}
	return id.Nil
}

func bodyFor(j *job.Job, change job.StatusChange) string {
	switch change.Kind {
	case job.KindAccept:
		return fmt.Sprintf("A contractor accepted %q.", j.Title)
	case job.KindDecline:
		return fmt.Sprintf("A contractor declined %q: %s", j.Title, change.Reason)
	case job.KindRelease:
		return fmt.Sprintf("The contractor returned %q to the pool: %s", j.Title, change.Reason)
	case job.KindCancel:
		return fmt.Sprintf("The landlord withdrew %q: %s", j.Title, change.Reason)
	case job.KindStart:
		return fmt.Sprintf("Work started on %q.", j.Title)
	case job.KindBlock:
		return fmt.Sprintf("Work on %q is blocked: %s", j.Title, change.Reason)
	case job.KindResume:
		return fmt.Sprintf("Work on %q resumed.", j.Title)
	case job.KindComplete:
		return fmt.Sprintf("Work on %q is complete.", j.Title)
	}
	return ""
}
