package rolesync

import (
	"time"

	"github.com/guildworks/membergate/app/models"
)

// DesiredRoleState is the single policy deciding whether an identity should
// hold the member role. It is pure and total, and every call site (webhook
// gateway, reconciliation, join flow, application review) must go through it
// so the three entry points can never disagree.
//
// Policy:
//   - false unless the application is approved
//   - approved + active or past_due subscription: true
//   - approved + canceled subscription: true only while the paid-through
//     period has not elapsed
//   - everything else (no subscription, unpaid, incomplete, canceled with
//     no period end): false
func DesiredRoleState(applicationStatus, subscriptionStatus string, currentPeriodEnd *time.Time, now time.Time) bool {
	if applicationStatus != models.ApplicationStatusApproved {
		return false
	}

	switch subscriptionStatus {
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
		return true
	case models.SubscriptionStatusCanceled:
		return currentPeriodEnd != nil && currentPeriodEnd.After(now)
	default:
		return false
	}
}
