package joinflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/guildworks/membergate/app/models"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
)

type stubApps struct {
	apps map[string]*models.Application
}

func (s *stubApps) Create(app *models.Application) error                 { return nil }
func (s *stubApps) GetByID(id uint) (*models.Application, error)         { return nil, gorm.ErrRecordNotFound }
func (s *stubApps) GetByUUID(uuid string) (*models.Application, error)   { return nil, gorm.ErrRecordNotFound }
func (s *stubApps) SetStatus(id uint, status, reviewerID string) error   { return nil }
func (s *stubApps) Reopen(id uint) error                                 { return nil }
func (s *stubApps) List(offset, limit int) ([]models.Application, error) { return nil, nil }
func (s *stubApps) CountByStatus(status string) (int64, error)           { return 0, nil }

func (s *stubApps) GetByDiscordUserID(discordUserID string) (*models.Application, error) {
	if app, ok := s.apps[discordUserID]; ok {
		return app, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type stubCustomers struct {
	rows map[string]*models.Customer
}

func (s *stubCustomers) UpsertByDiscordUserID(customer *models.Customer) error { return nil }
func (s *stubCustomers) GetByID(id uint) (*models.Customer, error) {
	return nil, gorm.ErrRecordNotFound
}
func (s *stubCustomers) GetByStripeCustomerID(id string) (*models.Customer, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubCustomers) GetByDiscordUserID(discordUserID string) (*models.Customer, error) {
	if c, ok := s.rows[discordUserID]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type stubSubs struct {
	byCustomer map[uint]*models.Subscription
}

func (s *stubSubs) Upsert(sub *models.Subscription) error { return nil }
func (s *stubSubs) GetByStripeSubscriptionID(id string) (*models.Subscription, error) {
	return nil, gorm.ErrRecordNotFound
}
func (s *stubSubs) ListByStatuses(statuses []string) ([]models.Subscription, error) {
	return nil, nil
}

func (s *stubSubs) GetLatestByCustomerID(customerID uint) (*models.Subscription, error) {
	if sub, ok := s.byCustomer[customerID]; ok {
		return sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type stubGuild struct {
	created bool
	err     error

	userID string
	roles  []string
	calls  int
}

func (s *stubGuild) AddGuildMember(ctx context.Context, userID, accessToken string, roleIDs []string) (bool, error) {
	s.calls++
	s.userID = userID
	s.roles = roleIDs
	return s.created, s.err
}

type stubEnsurer struct {
	err   error
	calls int

	userID  string
	desired bool
}

func (s *stubEnsurer) EnsureRole(ctx context.Context, discordUserID, roleID string, desired bool) (rolesync.Outcome, error) {
	s.calls++
	s.userID = discordUserID
	s.desired = desired
	if s.err != nil {
		return rolesync.OutcomeFailed, s.err
	}
	return rolesync.OutcomeAssigned, nil
}

func newEligibleService(now time.Time) (*Service, *stubGuild, *stubEnsurer) {
	periodEnd := now.Add(30 * 24 * time.Hour)
	apps := &stubApps{apps: map[string]*models.Application{
		"user-1": {ID: 1, DiscordUserID: "user-1", Status: models.ApplicationStatusApproved},
	}}
	customers := &stubCustomers{rows: map[string]*models.Customer{
		"user-1": {ID: 1, DiscordUserID: "user-1"},
	}}
	subs := &stubSubs{byCustomer: map[uint]*models.Subscription{
		1: {ID: 1, CustomerID: 1, Status: models.SubscriptionStatusActive, CurrentPeriodEnd: &periodEnd},
	}}
	guild := &stubGuild{created: true}
	ensurer := &stubEnsurer{}

	svc := NewService(apps, customers, subs, guild, ensurer, "role-1").
		WithNow(func() time.Time { return now })
	return svc, guild, ensurer
}

func TestCheckEligibilityReasons(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)

	apps := &stubApps{apps: map[string]*models.Application{
		"approved-no-customer": {Status: models.ApplicationStatusApproved},
		"approved-no-sub":      {Status: models.ApplicationStatusApproved},
		"approved-expired":     {Status: models.ApplicationStatusApproved},
		"waitlisted":           {Status: models.ApplicationStatusWaitlisted},
		"rejected":             {Status: models.ApplicationStatusRejected},
	}}
	customers := &stubCustomers{rows: map[string]*models.Customer{
		"approved-no-sub":  {ID: 2, DiscordUserID: "approved-no-sub"},
		"approved-expired": {ID: 3, DiscordUserID: "approved-expired"},
	}}
	subs := &stubSubs{byCustomer: map[uint]*models.Subscription{
		3: {CustomerID: 3, Status: models.SubscriptionStatusCanceled, CurrentPeriodEnd: &past},
	}}

	svc := NewService(apps, customers, subs, &stubGuild{}, &stubEnsurer{}, "role-1").
		WithNow(func() time.Time { return now })

	tests := []struct {
		user   string
		reason string
	}{
		{user: "never-applied", reason: ReasonNotApproved},
		{user: "waitlisted", reason: ReasonNotApproved},
		{user: "rejected", reason: ReasonNotApproved},
		{user: "approved-no-customer", reason: ReasonNoCustomer},
		{user: "approved-no-sub", reason: ReasonNoSubscription},
		{user: "approved-expired", reason: ReasonNotCurrent},
	}
	for _, tt := range tests {
		elig, err := svc.CheckEligibility(context.Background(), tt.user)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.user, err)
		}
		if elig.Eligible {
			t.Fatalf("%s: expected ineligible", tt.user)
		}
		if elig.Reason != tt.reason {
			t.Fatalf("%s: reason = %q, want %q", tt.user, elig.Reason, tt.reason)
		}
	}
}

func TestCheckEligibilityEligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newEligibleService(now)

	elig, err := svc.CheckEligibility(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !elig.Eligible || elig.Reason != "" {
		t.Fatalf("expected eligible, got %+v", elig)
	}
}

func TestClaimDualGrant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, guild, ensurer := newEligibleService(now)

	created, err := svc.Claim(context.Background(), "user-1", "access-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}
	if guild.calls != 1 || guild.userID != "user-1" {
		t.Fatalf("expected one guild add for user-1, got %+v", guild)
	}
	if len(guild.roles) != 1 || guild.roles[0] != "role-1" {
		t.Fatalf("join must carry the member role, got %v", guild.roles)
	}
	if ensurer.calls != 1 || !ensurer.desired || ensurer.userID != "user-1" {
		t.Fatalf("expected independent role grant, got %+v", ensurer)
	}
}

func TestClaimFallbackRunsForExistingMember(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, guild, ensurer := newEligibleService(now)
	guild.created = false // already in the guild

	created, err := svc.Claim(context.Background(), "user-1", "access-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected created=false for existing member")
	}
	if ensurer.calls != 1 {
		t.Fatalf("fallback grant must run even when the member already joined")
	}
}

func TestClaimSurvivesRoleGrantFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, ensurer := newEligibleService(now)
	ensurer.err = errors.New("rate limited")

	if _, err := svc.Claim(context.Background(), "user-1", "access-token"); err != nil {
		t.Fatalf("role grant failure must not fail the join: %v", err)
	}
}

func TestClaimFailsWhenJoinFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, guild, ensurer := newEligibleService(now)
	guild.err = errors.New("guild unavailable")

	if _, err := svc.Claim(context.Background(), "user-1", "access-token"); err == nil {
		t.Fatalf("expected error when the guild add fails")
	}
	if ensurer.calls != 0 {
		t.Fatalf("failed join must not attempt the role grant")
	}
}
