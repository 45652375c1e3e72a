package rolesync

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/guildworks/membergate/app/models"
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

type recordingEnsurer struct {
	userID  string
	roleID  string
	desired bool
	calls   int
}

func (r *recordingEnsurer) EnsureRole(ctx context.Context, discordUserID, roleID string, desired bool) (Outcome, error) {
	r.calls++
	r.userID = discordUserID
	r.roleID = roleID
	r.desired = desired
	if desired {
		return OutcomeAssigned, nil
	}
	return OutcomeRemoved, nil
}

func TestSyncIdentityDesiredStates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	apps := &stubApps{apps: map[string]*models.Application{
		"paying-approved": {Status: models.ApplicationStatusApproved},
		"paying-pending":  {Status: models.ApplicationStatusPending},
	}}
	customers := &stubCustomers{rows: map[string]*models.Customer{
		"paying-approved": {ID: 1, DiscordUserID: "paying-approved"},
		"paying-pending":  {ID: 2, DiscordUserID: "paying-pending"},
	}}
	subs := &stubSubs{byCustomer: map[uint]*models.Subscription{
		1: {CustomerID: 1, Status: models.SubscriptionStatusActive},
		2: {CustomerID: 2, Status: models.SubscriptionStatusActive},
	}}

	tests := []struct {
		user    string
		desired bool
	}{
		{user: "paying-approved", desired: true},
		{user: "paying-pending", desired: false},
		{user: "stranger", desired: false},
	}

	for _, tt := range tests {
		ensurer := &recordingEnsurer{}
		syncer := NewSyncer(apps, customers, subs, ensurer, "role-1").
			WithNow(func() time.Time { return now })

		if _, err := syncer.SyncIdentity(context.Background(), tt.user); err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.user, err)
		}
		if ensurer.calls != 1 {
			t.Fatalf("%s: expected one actuator call, got %d", tt.user, ensurer.calls)
		}
		if ensurer.desired != tt.desired {
			t.Fatalf("%s: desired = %v, want %v", tt.user, ensurer.desired, tt.desired)
		}
		if ensurer.roleID != "role-1" {
			t.Fatalf("%s: roleID = %q", tt.user, ensurer.roleID)
		}
	}
}

func TestRevokeIdentityBypassesDecision(t *testing.T) {
	apps := &stubApps{apps: map[string]*models.Application{
		"user-1": {Status: models.ApplicationStatusApproved},
	}}
	customers := &stubCustomers{rows: map[string]*models.Customer{
		"user-1": {ID: 1, DiscordUserID: "user-1"},
	}}
	subs := &stubSubs{byCustomer: map[uint]*models.Subscription{
		1: {CustomerID: 1, Status: models.SubscriptionStatusActive},
	}}
	ensurer := &recordingEnsurer{}

	syncer := NewSyncer(apps, customers, subs, ensurer, "role-1")
	outcome, err := syncer.RevokeIdentity(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeRemoved {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeRemoved)
	}
	if ensurer.desired {
		t.Fatalf("revoke must pass desired=false even for an entitled identity")
	}
}

func TestSyncIdentityRequiresRole(t *testing.T) {
	syncer := NewSyncer(&stubApps{}, &stubCustomers{}, &stubSubs{}, &recordingEnsurer{}, "")
	if _, err := syncer.SyncIdentity(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected error for missing role configuration")
	}
}
