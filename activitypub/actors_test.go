package activitypub

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
)

func TestActorIRIScheme(t *testing.T) {
	tests := []struct {
		kind domain.ActorKind
		name string
		want string
	}{
		{domain.ActorKindInstance, "local.test", "https://local.test/actor"},
		{domain.ActorKindUser, "alice", "https://local.test/users/alice"},
		{domain.ActorKindGroup, "golang", "https://local.test/c/golang"},
	}
	for _, tt := range tests {
		if got := ActorIRI("local.test", tt.kind, tt.name); got != tt.want {
			t.Errorf("ActorIRI(%s, %s) = %s, want %s", tt.kind, tt.name, got, tt.want)
		}
	}

	if got := SharedInboxIRI("local.test"); got != "https://local.test/inbox" {
		t.Errorf("SharedInboxIRI = %s", got)
	}
}

func TestFindOrCreateInstanceActorSingleton(t *testing.T) {
	database := setupTestDB(t)
	registry := NewRegistry(database, testConf())

	first, err := registry.FindOrCreateInstanceActor()
	if err != nil {
		t.Fatalf("FindOrCreateInstanceActor failed: %v", err)
	}
	if first.Kind != domain.ActorKindInstance {
		t.Errorf("Expected instance kind, got %s", first.Kind)
	}
	if first.ActorType != "Application" {
		t.Errorf("Expected Application type, got %s", first.ActorType)
	}
	if first.ActorURI != "https://local.test/actor" {
		t.Errorf("Unexpected actor URI: %s", first.ActorURI)
	}

	second, err := registry.FindOrCreateInstanceActor()
	if err != nil {
		t.Fatalf("Second FindOrCreateInstanceActor failed: %v", err)
	}
	if second.Id != first.Id {
		t.Error("Instance actor is not a singleton")
	}
}

func TestFindOrCreateForUser(t *testing.T) {
	database := setupTestDB(t)
	registry := NewRegistry(database, testConf())

	user := createUser(t, database, "alice")

	actor, err := registry.FindOrCreateForUser(user)
	if err != nil {
		t.Fatalf("FindOrCreateForUser failed: %v", err)
	}
	if actor.ActorType != "Person" {
		t.Errorf("Expected Person, got %s", actor.ActorType)
	}
	if actor.ActorURI != "https://local.test/users/alice" {
		t.Errorf("Unexpected actor URI: %s", actor.ActorURI)
	}
	if actor.KeyId() != "https://local.test/users/alice#main-key" {
		t.Errorf("Unexpected key id: %s", actor.KeyId())
	}

	again, err := registry.FindOrCreateForUser(user)
	if err != nil {
		t.Fatalf("Second FindOrCreateForUser failed: %v", err)
	}
	if again.Id != actor.Id {
		t.Error("User actor was created twice")
	}
}

func TestFindOrCreateForCommunity(t *testing.T) {
	database := setupTestDB(t)
	registry := NewRegistry(database, testConf())

	community := &domain.Community{Id: uuid.New(), Name: "golang", Title: "Go", CreatedAt: time.Now()}
	if err := database.CreateCommunity(community); err != nil {
		t.Fatalf("CreateCommunity failed: %v", err)
	}

	actor, err := registry.FindOrCreateForCommunity(community)
	if err != nil {
		t.Fatalf("FindOrCreateForCommunity failed: %v", err)
	}
	if actor.ActorType != "Group" {
		t.Errorf("Expected Group, got %s", actor.ActorType)
	}
	if actor.ActorURI != "https://local.test/c/golang" {
		t.Errorf("Unexpected actor URI: %s", actor.ActorURI)
	}
}

func TestFindByUsernameIgnoresDeactivated(t *testing.T) {
	database := setupTestDB(t)
	registry := NewRegistry(database, testConf())

	user := createUser(t, database, "alice")
	actor, err := registry.FindOrCreateForUser(user)
	if err != nil {
		t.Fatalf("FindOrCreateForUser failed: %v", err)
	}

	found, err := registry.FindByUsername("alice", domain.ActorKindUser)
	if err != nil {
		t.Fatalf("FindByUsername failed: %v", err)
	}
	if found == nil || found.Id != actor.Id {
		t.Fatal("Expected to find the actor by name")
	}

	if err := registry.Deactivate(actor); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	found, err = registry.FindByUsername("alice", domain.ActorKindUser)
	if err != nil {
		t.Fatalf("FindByUsername failed: %v", err)
	}
	if found != nil {
		t.Error("Deactivated actor must not resolve by name")
	}
}

func TestPublicFollowerCountSuppression(t *testing.T) {
	database := setupTestDB(t)
	registry := NewRegistry(database, testConf())

	user := createUser(t, database, "alice")
	actor, err := registry.FindOrCreateForUser(user)
	if err != nil {
		t.Fatalf("FindOrCreateForUser failed: %v", err)
	}

	remote := &domain.RemoteAccount{
		Id:       uuid.New(),
		Username: "carol",
		Domain:   "remote.test",
		ActorURI: "https://remote.test/users/carol",
		InboxURI: "https://remote.test/users/carol/inbox",
	}
	if _, err := RegisterFollower(database, actor, remote); err != nil {
		t.Fatalf("RegisterFollower failed: %v", err)
	}

	count, err := registry.PublicFollowerCount(actor)
	if err != nil {
		t.Fatalf("PublicFollowerCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 follower, got %d", count)
	}

	// The owner hides the count: zero, not an error
	err2, us := database.FindOrCreateUserSettings(user.Id)
	if err2 != nil {
		t.Fatalf("FindOrCreateUserSettings failed: %v", err2)
	}
	us.ShowFollowerCount = false
	if err := database.UpdateUserSettings(us); err != nil {
		t.Fatalf("UpdateUserSettings failed: %v", err)
	}

	count, err = registry.PublicFollowerCount(actor)
	if err != nil {
		t.Fatalf("PublicFollowerCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected suppressed count of 0, got %d", count)
	}
}

func TestToPublicDocument(t *testing.T) {
	database := setupTestDB(t)
	registry := NewRegistry(database, testConf())
	km := NewKeyManager(database, "test-secret")

	user := createUser(t, database, "alice")
	actor, err := registry.FindOrCreateForUser(user)
	if err != nil {
		t.Fatalf("FindOrCreateForUser failed: %v", err)
	}
	if _, err := km.EnsureKeysFor(actor); err != nil {
		t.Fatalf("EnsureKeysFor failed: %v", err)
	}

	doc, err := registry.ToPublicDocument(actor)
	if err != nil {
		t.Fatalf("ToPublicDocument failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("Document is not valid JSON: %v\n%s", err, doc)
	}

	if parsed["id"] != actor.ActorURI {
		t.Errorf("Unexpected id: %v", parsed["id"])
	}
	if parsed["type"] != "Person" {
		t.Errorf("Unexpected type: %v", parsed["type"])
	}
	if parsed["preferredUsername"] != "alice" {
		t.Errorf("Unexpected preferredUsername: %v", parsed["preferredUsername"])
	}

	endpoints, ok := parsed["endpoints"].(map[string]interface{})
	if !ok || endpoints["sharedInbox"] != "https://local.test/inbox" {
		t.Errorf("Unexpected endpoints: %v", parsed["endpoints"])
	}

	publicKey, ok := parsed["publicKey"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected publicKey block once keys exist")
	}
	if publicKey["id"] != actor.KeyId() {
		t.Errorf("Unexpected key id: %v", publicKey["id"])
	}
	pem, _ := publicKey["publicKeyPem"].(string)
	if !strings.Contains(pem, "PUBLIC KEY") {
		t.Error("Expected PEM public key in document")
	}

	// The private key never leaks into the public document
	if strings.Contains(doc, "PRIVATE") {
		t.Error("Document must not contain private key material")
	}
}

func TestToPublicDocumentWithoutKeys(t *testing.T) {
	database := setupTestDB(t)
	registry := NewRegistry(database, testConf())

	user := createUser(t, database, "bob")
	actor, err := registry.FindOrCreateForUser(user)
	if err != nil {
		t.Fatalf("FindOrCreateForUser failed: %v", err)
	}

	doc, err := registry.ToPublicDocument(actor)
	if err != nil {
		t.Fatalf("ToPublicDocument failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("Document is not valid JSON: %v", err)
	}
	if _, ok := parsed["publicKey"]; ok {
		t.Error("Document must omit publicKey before keys exist")
	}
}

func TestToPublicDocumentGroupUsesCommunityTitle(t *testing.T) {
	database := setupTestDB(t)
	registry := NewRegistry(database, testConf())

	community := &domain.Community{
		Id:        uuid.New(),
		Name:      "golang",
		Title:     "Go News",
		CreatedAt: time.Now(),
	}
	if err := database.CreateCommunity(community); err != nil {
		t.Fatalf("CreateCommunity failed: %v", err)
	}
	actor, err := registry.FindOrCreateForCommunity(community)
	if err != nil {
		t.Fatalf("FindOrCreateForCommunity failed: %v", err)
	}

	doc, err := registry.ToPublicDocument(actor)
	if err != nil {
		t.Fatalf("ToPublicDocument failed: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("Actor document is not valid JSON: %v", err)
	}
	if parsed["name"] != "Go News" {
		t.Errorf("Expected community title as name, got %v", parsed["name"])
	}
	if parsed["preferredUsername"] != "golang" {
		t.Errorf("Expected preferredUsername golang, got %v", parsed["preferredUsername"])
	}
}
