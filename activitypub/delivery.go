package activitypub

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

const (
	deliveryBatchSize  = 100
	deliveryTickPeriod = 10 * time.Second
)

// Engine owns the delivery state machine: it schedules one row per
// (activity, inbox) pair, attempts pending rows in parallel, and
// records every attempt in the telemetry log. Retries are driven by
// the periodic worker re-reading pending rows, never by the HTTP
// client itself, so the attempt counter stays truthful.
type Engine struct {
	db        *db.DB
	keys      *KeyManager
	blocklist *Blocklist
	client    *http.Client
	workers   int
}

func NewEngine(database *db.DB, keys *KeyManager, blocklist *Blocklist, conf *util.AppConfig) *Engine {
	workers := conf.Conf.DeliveryWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Engine{
		db:        database,
		keys:      keys,
		blocklist: blocklist,
		client:    &http.Client{Timeout: 15 * time.Second},
		workers:   workers,
	}
}

// ScheduleDeliveries fans an activity out to the given inbox URIs,
// creating one pending delivery row per target. Targets on fully
// blocked instances are dropped silently, and nothing is scheduled
// for a deactivated actor. Returns how many rows were created.
func (e *Engine) ScheduleDeliveries(activity *domain.Activity, actor *domain.Actor, targets []string) int {
	if !actor.Active {
		log.Printf("Delivery: Skipping schedule for deactivated actor %s", actor.ActorURI)
		return 0
	}

	scheduled := 0
	for _, inboxURI := range targets {
		instanceDomain, err := util.ExtractDomain(inboxURI)
		if err != nil {
			log.Printf("Delivery: Skipping malformed inbox URI %s: %v", inboxURI, err)
			continue
		}
		if e.blocklist.IsBlocked(instanceDomain) {
			continue
		}

		delivery := &domain.Delivery{
			Id:         uuid.New(),
			ActivityId: activity.Id,
			ActorId:    actor.Id,
			InboxURI:   inboxURI,
			Status:     domain.DeliveryPending,
			CreatedAt:  time.Now(),
		}
		if err := e.db.CreateDelivery(delivery); err != nil {
			log.Printf("Delivery: Failed to schedule delivery to %s: %v", inboxURI, err)
			continue
		}
		scheduled++
	}

	if scheduled > 0 {
		log.Printf("Delivery: Scheduled %d deliveries for activity %s", scheduled, activity.ActivityURI)
	}
	return scheduled
}

// ProcessPending attempts a batch of pending deliveries with bounded
// parallelism. Rows that have exhausted their attempts are left for
// the failure marker; each row is attempted at most once per cycle.
func (e *Engine) ProcessPending() {
	err, pending := e.db.ReadPendingDeliveries(deliveryBatchSize)
	if err != nil {
		log.Printf("Delivery: Failed to read pending deliveries: %v", err)
		return
	}
	if pending == nil || len(*pending) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range *pending {
		delivery := (*pending)[i]
		if !delivery.CanRetry() {
			continue
		}
		g.Go(func() error {
			e.attempt(&delivery)
			return nil
		})
	}
	g.Wait()
}

// attempt performs one delivery attempt and records the outcome in
// both the delivery row and the telemetry log
func (e *Engine) attempt(delivery *domain.Delivery) {
	err, activity := e.db.ReadActivityById(delivery.ActivityId)
	if err != nil {
		log.Printf("Delivery: Missing activity %s for delivery %s: %v", delivery.ActivityId, delivery.Id, err)
		e.markFailed(delivery, "", "activity row missing")
		return
	}

	err, actor := e.db.ReadActorById(delivery.ActorId)
	if err != nil {
		log.Printf("Delivery: Missing actor %s for delivery %s: %v", delivery.ActorId, delivery.Id, err)
		e.markFailed(delivery, activity.ActivityType, "actor row missing")
		return
	}

	// A block placed after scheduling still stops the send. The row
	// goes terminal in one step, without retries and without failure
	// telemetry: an intentionally blocked domain is not an error.
	instanceDomain, derr := util.ExtractDomain(delivery.InboxURI)
	if derr == nil && e.blocklist.IsBlocked(instanceDomain) {
		e.abandon(delivery, "instance blocked")
		return
	}

	privateKey, keyId, err := e.keys.SigningKeyFor(actor)
	if err != nil {
		// A broken key cannot succeed on retry; reprovision and let
		// the next cycle pick the row up with the fresh pair. The
		// attempt counter is not charged for our own key trouble.
		log.Printf("Delivery: Signing key unavailable for %s: %v", actor.ActorURI, err)
		if _, rerr := e.keys.Reprovision(actor); rerr != nil {
			log.Printf("Delivery: Key reprovisioning failed for %s: %v", actor.ActorURI, rerr)
		}
		return
	}

	req, err := newSignedInboxRequest([]byte(activity.RawJSON), delivery.InboxURI, privateKey, keyId)
	if err != nil {
		e.markFailed(delivery, activity.ActivityType, err.Error())
		return
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.markFailed(delivery, activity.ActivityType, err.Error())
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		e.markDelivered(delivery, activity.ActivityType, resp.StatusCode)
		return
	}
	e.markFailedWithStatus(delivery, activity.ActivityType, resp.StatusCode, fmt.Sprintf("remote returned status %d", resp.StatusCode))
}

func (e *Engine) markDelivered(delivery *domain.Delivery, activityType string, httpStatus int) {
	if err := e.db.MarkDeliveryDelivered(delivery.Id, time.Now()); err != nil {
		log.Printf("Delivery: Failed to mark delivery %s delivered: %v", delivery.Id, err)
		return
	}
	e.appendLog(delivery, activityType, domain.DeliveryDelivered, httpStatus, "")
	log.Printf("Delivery: Delivered to %s (attempt %d)", delivery.InboxURI, delivery.Attempts+1)
}

func (e *Engine) abandon(delivery *domain.Delivery, reason string) {
	if err := e.db.AbandonDelivery(delivery.Id, reason); err != nil {
		log.Printf("Delivery: Failed to abandon delivery %s: %v", delivery.Id, err)
		return
	}
	log.Printf("Delivery: Abandoned delivery to %s: %s", delivery.InboxURI, reason)
}

func (e *Engine) markFailed(delivery *domain.Delivery, activityType, errText string) {
	e.markFailedWithStatus(delivery, activityType, 0, errText)
}

func (e *Engine) markFailedWithStatus(delivery *domain.Delivery, activityType string, httpStatus int, errText string) {
	if err := e.db.MarkDeliveryFailed(delivery.Id, errText); err != nil {
		log.Printf("Delivery: Failed to mark delivery %s failed: %v", delivery.Id, err)
		return
	}
	e.appendLog(delivery, activityType, domain.DeliveryFailed, httpStatus, errText)

	attempt := delivery.Attempts + 1
	if attempt >= domain.MaxDeliveryAttempts {
		log.Printf("Delivery: Giving up on %s after %d attempts: %s", delivery.InboxURI, attempt, errText)
	} else {
		log.Printf("Delivery: Attempt %d/%d to %s failed: %s", attempt, domain.MaxDeliveryAttempts, delivery.InboxURI, errText)
	}
}

func (e *Engine) appendLog(delivery *domain.Delivery, activityType string, status domain.DeliveryStatus, httpStatus int, errText string) {
	instanceDomain, err := util.ExtractDomain(delivery.InboxURI)
	if err != nil {
		instanceDomain = ""
	}
	entry := &domain.DeliveryLog{
		Id:             uuid.New(),
		ActorId:        delivery.ActorId,
		InboxURI:       delivery.InboxURI,
		InstanceDomain: instanceDomain,
		ActivityType:   activityType,
		Status:         status,
		HTTPStatus:     httpStatus,
		Error:          errText,
		Attempt:        delivery.Attempts + 1,
		CreatedAt:      time.Now(),
	}
	if err := e.db.AppendDeliveryLog(entry); err != nil {
		log.Printf("Delivery: Failed to append telemetry for %s: %v", delivery.Id, err)
	}
}

// StartWorker launches the background loop that drains pending
// deliveries on a fixed tick
func (e *Engine) StartWorker(quit chan struct{}) {
	ticker := time.NewTicker(deliveryTickPeriod)
	go func() {
		log.Printf("Delivery: Worker started (parallelism %d)", e.workers)
		for {
			select {
			case <-ticker.C:
				e.ProcessPending()
			case <-quit:
				ticker.Stop()
				log.Printf("Delivery: Worker stopped")
				return
			}
		}
	}()
}
