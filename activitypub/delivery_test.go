package activitypub

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
)

func newTestEngine(t *testing.T, database *db.DB) (*Engine, *KeyManager, *Blocklist) {
	t.Helper()
	keys := NewKeyManager(database, "test-secret")
	blocklist := NewBlocklist(database)
	return NewEngine(database, keys, blocklist, testConf()), keys, blocklist
}

func createLocalActivity(t *testing.T, database *db.DB, actor *domain.Actor) *domain.Activity {
	t.Helper()
	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  "https://local.test/activities/" + uuid.New().String(),
		ActivityType: "Create",
		ActorURI:     actor.ActorURI,
		RawJSON:      `{"@context":"https://www.w3.org/ns/activitystreams","type":"Create"}`,
		Processed:    true,
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if err := database.CreateActivity(activity); err != nil {
		t.Fatalf("CreateActivity failed: %v", err)
	}
	return activity
}

func TestScheduleDeliveriesSkipsBlockedDomains(t *testing.T) {
	database := setupTestDB(t)
	engine, _, blocklist := newTestEngine(t, database)

	actor := createActor(t, database, "alice")
	activity := createLocalActivity(t, database, actor)

	if err := blocklist.BlockDomain("blocked.test", "spam", domain.BlockTypeFull, "admin", nil); err != nil {
		t.Fatalf("BlockDomain failed: %v", err)
	}

	targets := []string{
		"https://blocked.test/inbox",
		"https://ok.test/inbox",
	}
	scheduled := engine.ScheduleDeliveries(activity, actor, targets)
	if scheduled != 1 {
		t.Fatalf("Expected 1 scheduled delivery, got %d", scheduled)
	}

	err, pending := database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(*pending) != 1 {
		t.Fatalf("Expected 1 pending row, got %d", len(*pending))
	}
	if (*pending)[0].InboxURI != "https://ok.test/inbox" {
		t.Errorf("Wrong target survived: %s", (*pending)[0].InboxURI)
	}
}

func TestScheduleDeliveriesInactiveActor(t *testing.T) {
	database := setupTestDB(t)
	engine, _, _ := newTestEngine(t, database)

	actor := createActor(t, database, "alice")
	activity := createLocalActivity(t, database, actor)

	if err := database.DeactivateActor(actor.Id); err != nil {
		t.Fatalf("DeactivateActor failed: %v", err)
	}
	actor.Active = false

	scheduled := engine.ScheduleDeliveries(activity, actor, []string{"https://ok.test/inbox"})
	if scheduled != 0 {
		t.Errorf("Deactivated actor scheduled %d deliveries", scheduled)
	}
}

func TestProcessPendingDelivers(t *testing.T) {
	database := setupTestDB(t)
	engine, keys, _ := newTestEngine(t, database)

	actor := createActor(t, database, "alice")
	if _, err := keys.EnsureKeysFor(actor); err != nil {
		t.Fatalf("EnsureKeysFor failed: %v", err)
	}
	activity := createLocalActivity(t, database, actor)

	var got atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Signature") == "" {
			t.Error("Expected signed request")
		}
		if r.Header.Get("Digest") == "" {
			t.Error("Expected digest header")
		}
		got.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	scheduled := engine.ScheduleDeliveries(activity, actor, []string{server.URL + "/inbox"})
	if scheduled != 1 {
		t.Fatalf("Expected 1 scheduled delivery, got %d", scheduled)
	}

	engine.ProcessPending()

	if got.Load() != 1 {
		t.Fatalf("Expected 1 request, got %d", got.Load())
	}

	err, deliveries := database.ReadDeliveriesByActivityId(activity.Id)
	if err != nil {
		t.Fatalf("ReadDeliveriesByActivityId failed: %v", err)
	}
	if (*deliveries)[0].Status != domain.DeliveryDelivered {
		t.Errorf("Expected delivered, got %s", (*deliveries)[0].Status)
	}

	// The attempt shows up in telemetry
	err, stats := database.ReadDeliveryStats(1)
	if err != nil {
		t.Fatalf("ReadDeliveryStats failed: %v", err)
	}
	if stats.Delivered != 1 {
		t.Errorf("Expected 1 delivered attempt in telemetry, got %d", stats.Delivered)
	}
}

func TestProcessPendingRecordsFailure(t *testing.T) {
	database := setupTestDB(t)
	engine, keys, _ := newTestEngine(t, database)

	actor := createActor(t, database, "alice")
	if _, err := keys.EnsureKeysFor(actor); err != nil {
		t.Fatalf("EnsureKeysFor failed: %v", err)
	}
	activity := createLocalActivity(t, database, actor)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	engine.ScheduleDeliveries(activity, actor, []string{server.URL + "/inbox"})
	engine.ProcessPending()

	err, deliveries := database.ReadDeliveriesByActivityId(activity.Id)
	if err != nil {
		t.Fatalf("ReadDeliveriesByActivityId failed: %v", err)
	}
	d := (*deliveries)[0]
	if d.Status != domain.DeliveryPending {
		t.Errorf("One failed attempt should keep the row pending, got %s", d.Status)
	}
	if d.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", d.Attempts)
	}
	if d.LastError == "" {
		t.Error("Expected last_error to be recorded")
	}

	err, failures := database.ReadRecentFailures(10)
	if err != nil {
		t.Fatalf("ReadRecentFailures failed: %v", err)
	}
	if len(*failures) != 1 {
		t.Fatalf("Expected 1 failure log entry, got %d", len(*failures))
	}
	if (*failures)[0].HTTPStatus != http.StatusInternalServerError {
		t.Errorf("Expected status 500 in telemetry, got %d", (*failures)[0].HTTPStatus)
	}
}

func TestProcessPendingExhaustsAttempts(t *testing.T) {
	database := setupTestDB(t)
	engine, keys, _ := newTestEngine(t, database)

	actor := createActor(t, database, "alice")
	if _, err := keys.EnsureKeysFor(actor); err != nil {
		t.Fatalf("EnsureKeysFor failed: %v", err)
	}
	activity := createLocalActivity(t, database, actor)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	engine.ScheduleDeliveries(activity, actor, []string{server.URL + "/inbox"})

	// Each cycle consumes one attempt; after the bound the row is
	// terminally failed and later cycles leave it alone
	for i := 0; i < domain.MaxDeliveryAttempts+2; i++ {
		engine.ProcessPending()
	}

	err, deliveries := database.ReadDeliveriesByActivityId(activity.Id)
	if err != nil {
		t.Fatalf("ReadDeliveriesByActivityId failed: %v", err)
	}
	d := (*deliveries)[0]
	if d.Status != domain.DeliveryFailed {
		t.Errorf("Expected terminal failed, got %s", d.Status)
	}
	if d.Attempts != domain.MaxDeliveryAttempts {
		t.Errorf("Expected %d attempts, got %d", domain.MaxDeliveryAttempts, d.Attempts)
	}
}

func TestProcessPendingBlockedAfterSchedule(t *testing.T) {
	database := setupTestDB(t)
	engine, keys, blocklist := newTestEngine(t, database)

	actor := createActor(t, database, "alice")
	if _, err := keys.EnsureKeysFor(actor); err != nil {
		t.Fatalf("EnsureKeysFor failed: %v", err)
	}
	activity := createLocalActivity(t, database, actor)

	var got atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	engine.ScheduleDeliveries(activity, actor, []string{server.URL + "/inbox"})

	// The block lands between scheduling and the attempt
	if err := blocklist.BlockDomain("127.0.0.1", "late block", domain.BlockTypeFull, "admin", nil); err != nil {
		t.Fatalf("BlockDomain failed: %v", err)
	}

	engine.ProcessPending()

	if got.Load() != 0 {
		t.Errorf("Blocked instance still received %d requests", got.Load())
	}

	// One sweep is enough: the row goes terminal without charging the
	// attempt counter and without failure telemetry
	err, deliveries := database.ReadDeliveriesByActivityId(activity.Id)
	if err != nil {
		t.Fatalf("ReadDeliveriesByActivityId failed: %v", err)
	}
	if len(*deliveries) != 1 {
		t.Fatalf("Expected 1 delivery row, got %d", len(*deliveries))
	}
	d := (*deliveries)[0]
	if d.Status != domain.DeliveryFailed {
		t.Errorf("Expected terminal failed status after one sweep, got %s", d.Status)
	}
	if d.Attempts != 0 {
		t.Errorf("Expected attempt counter untouched, got %d", d.Attempts)
	}
	if d.LastError != "instance blocked" {
		t.Errorf("Unexpected last error: %q", d.LastError)
	}

	err, failures := database.ReadRecentFailures(10)
	if err != nil {
		t.Fatalf("ReadRecentFailures failed: %v", err)
	}
	if len(*failures) != 0 {
		t.Errorf("Expected no failure telemetry for a blocked domain, got %d rows", len(*failures))
	}

	// Further sweeps leave the terminal row alone
	engine.ProcessPending()
	err, deliveries = database.ReadDeliveriesByActivityId(activity.Id)
	if err != nil {
		t.Fatalf("ReadDeliveriesByActivityId failed: %v", err)
	}
	if (*deliveries)[0].Attempts != 0 || (*deliveries)[0].Status != domain.DeliveryFailed {
		t.Error("Terminal abandoned row must not change on later sweeps")
	}
}
