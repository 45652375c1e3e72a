package rolesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guildworks/membergate/app/models"
	"github.com/guildworks/membergate/internal/pkg/discord"
)

type fakeCommunity struct {
	hasRole    bool
	hasRoleErr error
	addErr     error
	removeErr  error

	hasRoleCalls int
	addCalls     int
	removeCalls  int
}

func (f *fakeCommunity) MemberHasRole(ctx context.Context, userID, roleID string) (bool, error) {
	f.hasRoleCalls++
	return f.hasRole, f.hasRoleErr
}

func (f *fakeCommunity) AddMemberRole(ctx context.Context, userID, roleID string) error {
	f.addCalls++
	return f.addErr
}

func (f *fakeCommunity) RemoveMemberRole(ctx context.Context, userID, roleID string) error {
	f.removeCalls++
	return f.removeErr
}

type fakeAudit struct {
	events []models.RoleSyncEvent
}

func (f *fakeAudit) Create(event *models.RoleSyncEvent) error {
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeAudit) ListByDiscordUserID(discordUserID string, limit int) ([]models.RoleSyncEvent, error) {
	return f.events, nil
}

func newTestActuator(community *fakeCommunity, audit *fakeAudit) (*Actuator, *[]time.Duration) {
	slept := &[]time.Duration{}
	a := NewActuator(community, audit).WithPolicy(DefaultRetryPolicy(), func(d time.Duration) {
		*slept = append(*slept, d)
	})
	return a, slept
}

func TestEnsureRoleGrant(t *testing.T) {
	community := &fakeCommunity{hasRole: false}
	audit := &fakeAudit{}
	a, _ := newTestActuator(community, audit)

	outcome, err := a.EnsureRole(context.Background(), "42", "role-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAssigned {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeAssigned)
	}
	if community.addCalls != 1 {
		t.Fatalf("expected 1 add call, got %d", community.addCalls)
	}
	if len(audit.events) != 1 || audit.events[0].Action != models.RoleSyncActionAssign || !audit.events[0].Success {
		t.Fatalf("expected one successful assign audit event, got %+v", audit.events)
	}
}

func TestEnsureRoleRevoke(t *testing.T) {
	community := &fakeCommunity{hasRole: true}
	audit := &fakeAudit{}
	a, _ := newTestActuator(community, audit)

	outcome, err := a.EnsureRole(context.Background(), "42", "role-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeRemoved {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeRemoved)
	}
	if community.removeCalls != 1 {
		t.Fatalf("expected 1 remove call, got %d", community.removeCalls)
	}
	if len(audit.events) != 1 || audit.events[0].Action != models.RoleSyncActionRemove || !audit.events[0].Success {
		t.Fatalf("expected one successful remove audit event, got %+v", audit.events)
	}
}

func TestEnsureRoleIdempotent(t *testing.T) {
	tests := []struct {
		name    string
		hasRole bool
		desired bool
	}{
		{name: "already granted", hasRole: true, desired: true},
		{name: "already revoked", hasRole: false, desired: false},
	}

	for _, tt := range tests {
		community := &fakeCommunity{hasRole: tt.hasRole}
		audit := &fakeAudit{}
		a, _ := newTestActuator(community, audit)

		outcome, err := a.EnsureRole(context.Background(), "42", "role-1", tt.desired)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if outcome != OutcomeNoop {
			t.Fatalf("%s: outcome = %s, want %s", tt.name, outcome, OutcomeNoop)
		}
		if community.addCalls != 0 || community.removeCalls != 0 {
			t.Fatalf("%s: expected no mutations", tt.name)
		}
		if len(audit.events) != 0 {
			t.Fatalf("%s: no-op must not write audit events, got %+v", tt.name, audit.events)
		}
	}
}

func TestEnsureRoleMemberNotJoined(t *testing.T) {
	community := &fakeCommunity{hasRoleErr: discord.ErrMemberNotFound}
	audit := &fakeAudit{}
	a, slept := newTestActuator(community, audit)

	outcome, err := a.EnsureRole(context.Background(), "42", "role-1", true)
	if !errors.Is(err, ErrMemberNotJoined) {
		t.Fatalf("expected ErrMemberNotJoined, got %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeFailed)
	}
	if community.addCalls != 0 {
		t.Fatalf("must not attempt a grant for a non-member")
	}
	if len(*slept) != 0 {
		t.Fatalf("member-not-joined must not be retried, got sleeps %v", *slept)
	}
	if len(audit.events) != 1 || audit.events[0].Success {
		t.Fatalf("expected one failed audit event, got %+v", audit.events)
	}
}

func TestEnsureRoleRevokeForNonMemberIsNoop(t *testing.T) {
	community := &fakeCommunity{hasRoleErr: discord.ErrMemberNotFound}
	audit := &fakeAudit{}
	a, _ := newTestActuator(community, audit)

	outcome, err := a.EnsureRole(context.Background(), "42", "role-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeNoop {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeNoop)
	}
	if len(audit.events) != 0 {
		t.Fatalf("expected no audit events, got %+v", audit.events)
	}
}

func TestEnsureRoleRetriesTransientFailure(t *testing.T) {
	community := &fakeCommunity{hasRole: false, addErr: &discord.APIError{Status: 502}}
	audit := &fakeAudit{}
	a, slept := newTestActuator(community, audit)

	outcome, err := a.EnsureRole(context.Background(), "42", "role-1", true)
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeFailed)
	}
	if community.addCalls != 3 {
		t.Fatalf("expected 3 grant attempts, got %d", community.addCalls)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), *slept)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("sleep %d = %s, want %s", i, (*slept)[i], want[i])
		}
	}
	if len(audit.events) != 1 || audit.events[0].Success {
		t.Fatalf("expected one failed audit event, got %+v", audit.events)
	}
}
