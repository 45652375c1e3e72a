package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/guildworks/membergate/internal/pkg/lock"
)

const (
	lockKey = "membergate:reconcile:lock"
	lockTTL = 10 * time.Minute
)

var (
	monitorStop chan struct{}
	monitorOnce sync.Once
)

// StartReconcileMonitor runs periodic reconciliation passes in the background
// until StopReconcileMonitor is called. When a Redis locker is provided, only
// one instance across the deployment executes a pass per interval; the others
// see the lock held and skip.
func StartReconcileMonitor(runner *Runner, locker *lock.Locker, interval time.Duration) {
	monitorOnce.Do(func() {
		monitorStop = make(chan struct{})

		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			log.Infof("[Reconcile] background monitor started (interval %s)", interval)
			for {
				select {
				case <-ticker.C:
					runPass(runner, locker)
				case <-monitorStop:
					log.Info("[Reconcile] background monitor stopped")
					return
				}
			}
		}()
	})
}

// StopReconcileMonitor stops the background monitor.
func StopReconcileMonitor() {
	if monitorStop != nil {
		close(monitorStop)
	}
}

func runPass(runner *Runner, locker *lock.Locker) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTTL)
	defer cancel()

	if locker != nil {
		token, acquired, err := locker.TryLock(ctx, lockKey, lockTTL)
		if err != nil {
			log.Errorf("[Reconcile] lock acquisition failed: %v", err)
			return
		}
		if !acquired {
			log.Debug("[Reconcile] pass skipped, lock held by another instance")
			return
		}
		defer func() {
			if err := locker.Release(ctx, lockKey, token); err != nil {
				log.Warnf("[Reconcile] lock release failed: %v", err)
			}
		}()
	}

	summary, err := runner.RunOnce(ctx)
	if err != nil {
		log.Errorf("[Reconcile] pass failed: %v", err)
		return
	}
	log.Infof("[Reconcile] pass complete: processed=%d assigned=%d removed=%d skipped=%d errored=%d",
		summary.Processed, summary.Assigned, summary.Removed, summary.Skipped, summary.Errored)
}
