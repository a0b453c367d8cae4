package activitypub

import (
	"crypto/rsa"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

// KeyManager generates, stores, and exposes the RSA key pair used to
// sign outbound requests on behalf of an actor. Private halves are
// sealed with the configured secret before they touch the database.
type KeyManager struct {
	db     *db.DB
	secret string
}

func NewKeyManager(database *db.DB, secret string) *KeyManager {
	return &KeyManager{db: database, secret: secret}
}

// EnsureKeysFor returns the actor's key pair, generating and
// persisting a new one if none exists yet. Generation is idempotent
// under concurrent callers: the UNIQUE(actor_id) constraint decides
// the winner, and a losing caller discards its pair and re-reads.
func (km *KeyManager) EnsureKeysFor(actor *domain.Actor) (*domain.ActorKey, error) {
	err, existing := km.db.ReadActorKeyByActorId(actor.Id)
	if err == nil && existing != nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read actor key: %w", err)
	}

	pair, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, err
	}

	sealed, err := util.Seal(pair.Private, km.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal private key: %w", err)
	}

	key := &domain.ActorKey{
		Id:            uuid.New(),
		ActorId:       actor.Id,
		KeyId:         actor.KeyId(),
		PublicKeyPem:  pair.Public,
		PrivateKeyEnc: sealed,
		CreatedAt:     time.Now(),
	}

	if cerr := km.db.CreateActorKey(key); cerr != nil {
		if db.IsUniqueViolation(cerr) {
			// Lost the race: another caller generated the winning
			// pair, use theirs
			err, winner := km.db.ReadActorKeyByActorId(actor.Id)
			if err == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, fmt.Errorf("failed to store actor key: %w", cerr)
	}

	log.Printf("KeyManager: Generated key pair for %s", actor.ActorURI)
	return key, nil
}

// SigningKeyFor returns the private-key handle the delivery engine
// signs with, along with its key id. PKCS#1 padding is what the
// httpsig RSA-SHA256 algorithm applies.
func (km *KeyManager) SigningKeyFor(actor *domain.Actor) (*rsa.PrivateKey, string, error) {
	key, err := km.EnsureKeysFor(actor)
	if err != nil {
		return nil, "", err
	}

	pemString, err := util.Open(key.PrivateKeyEnc, km.secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to unseal private key for %s: %w", actor.ActorURI, err)
	}

	privateKey, err := ParsePrivateKey(pemString)
	if err != nil {
		return nil, "", fmt.Errorf("corrupt private key for %s: %w", actor.ActorURI, err)
	}

	return privateKey, key.KeyId, nil
}

// Reprovision drops a corrupt key pair and generates a fresh one.
// Blind retries with a broken key cannot succeed, so signing failures
// come through here instead.
func (km *KeyManager) Reprovision(actor *domain.Actor) (*domain.ActorKey, error) {
	if err := km.db.DeleteActorKey(actor.Id); err != nil {
		return nil, fmt.Errorf("failed to drop key pair: %w", err)
	}
	log.Printf("KeyManager: Reprovisioning key pair for %s", actor.ActorURI)
	return km.EnsureKeysFor(actor)
}

// PublicKeyPemFor exposes the public half for embedding in the actor
// document
func (km *KeyManager) PublicKeyPemFor(actor *domain.Actor) (string, error) {
	key, err := km.EnsureKeysFor(actor)
	if err != nil {
		return "", err
	}
	return key.PublicKeyPem, nil
}
