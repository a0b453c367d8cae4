package activitypub

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
)

func createActor(t *testing.T, database *db.DB, username string) *domain.Actor {
	t.Helper()
	actor := &domain.Actor{
		Id:           uuid.New(),
		Kind:         domain.ActorKindUser,
		ActorType:    "Person",
		OwnerId:      uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Username:     username,
		ActorURI:     "https://local.test/users/" + username,
		InboxURI:     "https://local.test/users/" + username + "/inbox",
		OutboxURI:    "https://local.test/users/" + username + "/outbox",
		FollowersURI: "https://local.test/users/" + username + "/followers",
		Active:       true,
		CreatedAt:    time.Now(),
	}
	if err := database.CreateActor(actor); err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}
	return actor
}

func TestEnsureKeysForIsIdempotent(t *testing.T) {
	database := setupTestDB(t)
	km := NewKeyManager(database, "test-secret")
	actor := createActor(t, database, "alice")

	first, err := km.EnsureKeysFor(actor)
	if err != nil {
		t.Fatalf("EnsureKeysFor failed: %v", err)
	}
	if first.PublicKeyPem == "" {
		t.Fatal("Expected a public key")
	}
	if !strings.Contains(first.PublicKeyPem, "PUBLIC KEY") {
		t.Error("Public key is not PEM encoded")
	}
	if strings.Contains(first.PrivateKeyEnc, "PRIVATE KEY") {
		t.Error("Private key must not be stored as plaintext PEM")
	}
	if first.KeyId != actor.ActorURI+"#main-key" {
		t.Errorf("Unexpected key id: %s", first.KeyId)
	}

	second, err := km.EnsureKeysFor(actor)
	if err != nil {
		t.Fatalf("Second EnsureKeysFor failed: %v", err)
	}
	if second.Id != first.Id {
		t.Error("Second call generated a new key pair")
	}
	if second.PublicKeyPem != first.PublicKeyPem {
		t.Error("Public key changed between calls")
	}
}

func TestEnsureKeysForConcurrent(t *testing.T) {
	database := setupTestDB(t)
	km := NewKeyManager(database, "test-secret")
	actor := createActor(t, database, "alice")

	const callers = 4
	results := make([]*domain.ActorKey, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = km.EnsureKeysFor(actor)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
	}

	// All callers end up with the same winning pair
	for i := 1; i < callers; i++ {
		if results[i].PublicKeyPem != results[0].PublicKeyPem {
			t.Fatal("Concurrent callers got different key pairs")
		}
	}
}

func TestSigningKeyForRoundtrip(t *testing.T) {
	database := setupTestDB(t)
	km := NewKeyManager(database, "test-secret")
	actor := createActor(t, database, "alice")

	privateKey, keyId, err := km.SigningKeyFor(actor)
	if err != nil {
		t.Fatalf("SigningKeyFor failed: %v", err)
	}
	if privateKey == nil {
		t.Fatal("Expected a usable private key")
	}
	if keyId != actor.KeyId() {
		t.Errorf("Expected key id %s, got %s", actor.KeyId(), keyId)
	}

	// The public half stored in the database matches the private key
	pubPem, err := km.PublicKeyPemFor(actor)
	if err != nil {
		t.Fatalf("PublicKeyPemFor failed: %v", err)
	}
	parsedPub, err := ParsePublicKey(pubPem)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsedPub.N.Cmp(privateKey.N) != 0 {
		t.Error("Stored public key does not match the private key")
	}
}

func TestSigningKeyForWrongSecret(t *testing.T) {
	database := setupTestDB(t)
	actor := createActor(t, database, "alice")

	km := NewKeyManager(database, "test-secret")
	if _, err := km.EnsureKeysFor(actor); err != nil {
		t.Fatalf("EnsureKeysFor failed: %v", err)
	}

	wrong := NewKeyManager(database, "other-secret")
	if _, _, err := wrong.SigningKeyFor(actor); err == nil {
		t.Error("Expected unseal failure with the wrong secret")
	}
}

func TestReprovisionReplacesKeyPair(t *testing.T) {
	database := setupTestDB(t)
	km := NewKeyManager(database, "test-secret")
	actor := createActor(t, database, "alice")

	first, err := km.EnsureKeysFor(actor)
	if err != nil {
		t.Fatalf("EnsureKeysFor failed: %v", err)
	}

	fresh, err := km.Reprovision(actor)
	if err != nil {
		t.Fatalf("Reprovision failed: %v", err)
	}
	if fresh.PublicKeyPem == first.PublicKeyPem {
		t.Error("Reprovision did not generate a new pair")
	}

	// The fresh pair is the one signing now
	if _, _, err := km.SigningKeyFor(actor); err != nil {
		t.Fatalf("SigningKeyFor after reprovision failed: %v", err)
	}
}
