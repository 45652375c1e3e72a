package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/guildworks/membergate/app/models"
	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
)

// Summary reports the counters of one reconciliation pass.
type Summary struct {
	Processed int `json:"processed"`
	Assigned  int `json:"assigned"`
	Removed   int `json:"removed"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

// Runner walks every tracked subscription that could still imply role state
// and converges each identity independently. One broken record never aborts
// the pass; its error is counted and the walk continues.
type Runner struct {
	subs      repository.SubscriptionRepository
	customers repository.CustomerRepository
	apps      repository.ApplicationRepository
	actuator  rolesync.RoleEnsurer
	roleID    string
	now       func() time.Time
}

func NewRunner(
	subs repository.SubscriptionRepository,
	customers repository.CustomerRepository,
	apps repository.ApplicationRepository,
	actuator rolesync.RoleEnsurer,
	roleID string,
) *Runner {
	return &Runner{
		subs:      subs,
		customers: customers,
		apps:      apps,
		actuator:  actuator,
		roleID:    roleID,
		now:       time.Now,
	}
}

// WithNow overrides the clock. Used by tests.
func (r *Runner) WithNow(now func() time.Time) *Runner {
	r.now = now
	return r
}

// reconcileStatuses are the subscription states that can still influence the
// member role. Terminal states that can never grant (unpaid, incomplete) are
// excluded: their identities lost the role when the state transition arrived.
var reconcileStatuses = []string{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusPastDue,
	models.SubscriptionStatusCanceled,
}

// RunOnce executes a full reconciliation pass and returns its counters.
func (r *Runner) RunOnce(ctx context.Context) (*Summary, error) {
	if r.roleID == "" {
		return nil, errors.New("member role id is not configured")
	}

	subs, err := r.subs.ListByStatuses(reconcileStatuses)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	now := r.now()
	for i := range subs {
		summary.Processed++
		outcome, err := r.reconcileOne(ctx, &subs[i], now)
		if err != nil {
			summary.Errored++
			log.Warnf("[Reconcile] subscription %s: %v", subs[i].StripeSubscriptionID, err)
			continue
		}
		switch outcome {
		case rolesync.OutcomeAssigned:
			summary.Assigned++
		case rolesync.OutcomeRemoved:
			summary.Removed++
		default:
			summary.Skipped++
		}
	}
	return summary, nil
}

func (r *Runner) reconcileOne(ctx context.Context, sub *models.Subscription, now time.Time) (rolesync.Outcome, error) {
	customer, err := r.customers.GetByID(sub.CustomerID)
	if err != nil {
		return rolesync.OutcomeFailed, err
	}

	appStatus := ""
	if app, err := r.apps.GetByDiscordUserID(customer.DiscordUserID); err == nil {
		appStatus = app.Status
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return rolesync.OutcomeFailed, err
	}

	desired := rolesync.DesiredRoleState(appStatus, sub.Status, sub.CurrentPeriodEnd, now)
	return r.actuator.EnsureRole(ctx, customer.DiscordUserID, r.roleID, desired)
}
