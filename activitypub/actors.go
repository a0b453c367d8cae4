package activitypub

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

// Registry owns every local federatable identity and its public
// actor document
type Registry struct {
	db   *db.DB
	conf *util.AppConfig
}

func NewRegistry(database *db.DB, conf *util.AppConfig) *Registry {
	return &Registry{db: database, conf: conf}
}

// ActorIRI builds the canonical URI for a local actor
func ActorIRI(sslDomain string, kind domain.ActorKind, name string) string {
	switch kind {
	case domain.ActorKindInstance:
		return fmt.Sprintf("https://%s/actor", sslDomain)
	case domain.ActorKindGroup:
		return fmt.Sprintf("https://%s/c/%s", sslDomain, name)
	default:
		return fmt.Sprintf("https://%s/users/%s", sslDomain, name)
	}
}

// SharedInboxIRI is the instance-wide inbox endpoint
func SharedInboxIRI(sslDomain string) string {
	return fmt.Sprintf("https://%s/inbox", sslDomain)
}

func (r *Registry) newActor(kind domain.ActorKind, owner uuid.NullUUID, name string) *domain.Actor {
	uri := ActorIRI(r.conf.Conf.SslDomain, kind, name)
	return &domain.Actor{
		Id:           uuid.New(),
		Kind:         kind,
		ActorType:    kind.ActivityPubType(),
		OwnerId:      owner,
		Username:     name,
		ActorURI:     uri,
		InboxURI:     uri + "/inbox",
		OutboxURI:    uri + "/outbox",
		FollowersURI: uri + "/followers",
		Active:       true,
		CreatedAt:    time.Now(),
	}
}

// FindOrCreateInstanceActor returns the singleton instance actor,
// creating it on first use
func (r *Registry) FindOrCreateInstanceActor() (*domain.Actor, error) {
	err, existing := r.db.ReadInstanceActor()
	if err == nil && existing != nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read instance actor: %w", err)
	}

	actor := r.newActor(domain.ActorKindInstance, uuid.NullUUID{}, r.conf.Conf.SslDomain)
	if cerr := r.db.CreateActor(actor); cerr != nil {
		// A concurrent creator may have won the race; re-read
		if db.IsUniqueViolation(cerr) {
			err, existing = r.db.ReadInstanceActor()
			if err == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create instance actor: %w", cerr)
	}

	log.Printf("Registry: Created instance actor %s", actor.ActorURI)
	return actor, nil
}

// FindOrCreateForUser returns the user's actor, creating it on the
// user's first federation-enabling action
func (r *Registry) FindOrCreateForUser(user *domain.User) (*domain.Actor, error) {
	return r.findOrCreateOwned(domain.ActorKindUser, user.Id, user.Username)
}

// FindOrCreateForCommunity returns the community's group actor
func (r *Registry) FindOrCreateForCommunity(community *domain.Community) (*domain.Actor, error) {
	return r.findOrCreateOwned(domain.ActorKindGroup, community.Id, community.Name)
}

func (r *Registry) findOrCreateOwned(kind domain.ActorKind, ownerId uuid.UUID, name string) (*domain.Actor, error) {
	err, existing := r.db.ReadActorByOwner(kind, ownerId)
	if err == nil && existing != nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read actor for %s/%s: %w", kind, name, err)
	}

	actor := r.newActor(kind, uuid.NullUUID{UUID: ownerId, Valid: true}, name)
	if cerr := r.db.CreateActor(actor); cerr != nil {
		if db.IsUniqueViolation(cerr) {
			err, existing = r.db.ReadActorByOwner(kind, ownerId)
			if err == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create actor for %s/%s: %w", kind, name, cerr)
	}

	log.Printf("Registry: Created %s actor %s", kind, actor.ActorURI)
	return actor, nil
}

// FindByUsername returns the unique active actor with that name and
// kind, or nil
func (r *Registry) FindByUsername(name string, kind domain.ActorKind) (*domain.Actor, error) {
	err, actor := r.db.ReadActorByUsername(name, kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return actor, nil
}

// Deactivate marks the actor inactive when its owner disables
// federation. New deliveries stop being scheduled; in-flight attempts
// are not cancelled.
func (r *Registry) Deactivate(actor *domain.Actor) error {
	if err := r.db.DeactivateActor(actor.Id); err != nil {
		return fmt.Errorf("failed to deactivate actor: %w", err)
	}
	actor.Active = false
	log.Printf("Registry: Deactivated actor %s", actor.ActorURI)
	return nil
}

// PublicFollowerCount returns the real follower count, or zero when
// the owning user opted out of showing it. Suppression happens here,
// not in callers.
func (r *Registry) PublicFollowerCount(actor *domain.Actor) (int, error) {
	if actor.Kind == domain.ActorKindUser && actor.OwnerId.Valid {
		err, settings := r.db.FindOrCreateUserSettings(actor.OwnerId.UUID)
		if err != nil {
			return 0, err
		}
		if !settings.ShowFollowerCount {
			return 0, nil
		}
	}
	err, count := r.db.CountFollowersByActorId(actor.Id)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// discoverable computes the actor document's discoverability flag.
// Instance and group actors are always discoverable; user actors
// honor the owner's indexable setting.
func (r *Registry) discoverable(actor *domain.Actor) bool {
	if actor.Kind != domain.ActorKindUser || !actor.OwnerId.Valid {
		return true
	}
	err, settings := r.db.FindOrCreateUserSettings(actor.OwnerId.UUID)
	if err != nil {
		return false
	}
	return settings.Indexable
}

// ToPublicDocument renders the actor's publishable ActivityPub
// representation. The private key never appears here; the public key
// block is included only once keys exist.
func (r *Registry) ToPublicDocument(actor *domain.Actor) (string, error) {
	pubKey := ""
	err, key := r.db.ReadActorKeyByActorId(actor.Id)
	if err == nil && key != nil {
		pubKey = strings.Replace(key.PublicKeyPem, "\n", "\\n", -1)
	}

	summary := strings.Replace(actor.Summary, "\"", "\\\"", -1)
	summary = strings.Replace(summary, "\n", "\\n", -1)

	// Group actors display their community's title
	displayName := actor.Username
	if actor.Kind == domain.ActorKindGroup {
		if cerr, community := r.db.ReadCommunityByName(actor.Username); cerr == nil && community != nil && community.Title != "" {
			displayName = strings.Replace(community.Title, "\"", "\\\"", -1)
		}
	}

	doc := fmt.Sprintf(
		`{
				"@context": [
					"https://www.w3.org/ns/activitystreams",
					"https://w3id.org/security/v1"
				],

				"id": "%s",
				"type": "%s",
				"preferredUsername": "%s",
				"name": "%s",
				"summary": "%s",
				"inbox": "%s",
				"outbox": "%s",
				"followers": "%s",
				"url": "%s",
				"manuallyApprovesFollowers": false,
				"discoverable": %t,
				"endpoints": {
					"sharedInbox": "%s"
				}`,
		actor.ActorURI,
		actor.ActorType,
		actor.Username,
		displayName,
		summary,
		actor.InboxURI,
		actor.OutboxURI,
		actor.FollowersURI,
		actor.ActorURI,
		r.discoverable(actor),
		SharedInboxIRI(r.conf.Conf.SslDomain))

	if actor.IconURL != "" {
		doc += fmt.Sprintf(`,
				"icon": {
					"type": "Image",
					"mediaType": "image/png",
					"url": "%s"
				}`, actor.IconURL)
	}

	if pubKey != "" {
		doc += fmt.Sprintf(`,
				"publicKey": {
					"id": "%s",
					"owner": "%s",
					"publicKeyPem": "%s"
				}`, actor.KeyId(), actor.ActorURI, pubKey)
	}

	doc += `
			}`

	return doc, nil
}
