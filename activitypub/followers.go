package activitypub

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

// RegisterFollower upserts a remote subscription keyed by
// (actor, remote actor URI), extracting delivery endpoints and
// display metadata from the remote actor document. A remote actor
// that advertises no inbox falls back to {uri}/inbox.
func RegisterFollower(database *db.DB, actor *domain.Actor, remote *domain.RemoteAccount) (*domain.Follower, error) {
	inbox := remote.InboxURI
	if inbox == "" {
		inbox = fmt.Sprintf("%s/inbox", remote.ActorURI)
	}

	remoteDomain := remote.Domain
	if remoteDomain == "" {
		var err error
		remoteDomain, err = util.ExtractDomain(remote.ActorURI)
		if err != nil {
			return nil, err
		}
	}

	follower := &domain.Follower{
		Id:                uuid.New(),
		ActorId:           actor.Id,
		RemoteActorURI:    remote.ActorURI,
		RemoteInboxURI:    inbox,
		RemoteSharedInbox: remote.SharedInbox,
		RemoteDomain:      remoteDomain,
		RemoteUsername:    remote.Username,
		RemoteDisplayName: remote.DisplayName,
		CreatedAt:         time.Now(),
	}

	if err := database.UpsertFollower(follower); err != nil {
		return nil, fmt.Errorf("failed to store follower: %w", err)
	}

	log.Printf("Followers: %s@%s now follows %s", remote.Username, remoteDomain, actor.Username)
	return follower, nil
}

// RemoveFollower drops a subscription on Undo Follow or
// instance-initiated cleanup
func RemoveFollower(database *db.DB, actor *domain.Actor, remoteActorURI string) error {
	if err := database.DeleteFollower(actor.Id, remoteActorURI); err != nil {
		return fmt.Errorf("failed to remove follower: %w", err)
	}
	log.Printf("Followers: %s unfollowed %s", remoteActorURI, actor.Username)
	return nil
}

// ResolveDeliveryTargets returns the deduplicated set of endpoints a
// fan-out should hit, preferring each follower's shared inbox over
// its personal inbox. Followers on the same remote instance collapse
// to one delivery; the engine is never asked to send the same
// activity twice to the same physical endpoint.
func ResolveDeliveryTargets(followers []domain.Follower) []string {
	seen := make(map[string]bool, len(followers))
	targets := make([]string, 0, len(followers))

	for _, f := range followers {
		inbox := f.PreferredInbox()
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		targets = append(targets, inbox)
	}

	return targets
}
