package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

const (
	federationTickPeriod = 30 * time.Second
	blockSweepPeriod     = 10 * time.Minute
	telemetrySweepPeriod = 24 * time.Hour
	telemetryRetainDays  = 30
	pendingFederationMax = 50
)

// Federation bundles the engine components behind one handle: actor
// and key management, the trust layer, eligibility policy, remote
// resolution, and the delivery engine.
type Federation struct {
	DB        *db.DB
	Conf      *util.AppConfig
	Registry  *Registry
	Keys      *KeyManager
	Blocklist *Blocklist
	Resolver  *RemoteResolver
	Policy    *Policy
	Engine    *Engine
}

func New(database *db.DB, conf *util.AppConfig) *Federation {
	keys := NewKeyManager(database, conf.Conf.Secret)
	blocklist := NewBlocklist(database)
	return &Federation{
		DB:        database,
		Conf:      conf,
		Registry:  NewRegistry(database, conf),
		Keys:      keys,
		Blocklist: blocklist,
		Resolver:  NewRemoteResolver(database),
		Policy:    NewPolicy(database),
		Engine:    NewEngine(database, keys, blocklist, conf),
	}
}

// Dispatch federates a single post: the eligibility cascade is
// re-checked at dispatch time, the Create activity is built and
// persisted, and one delivery is scheduled per follower inbox. A post
// that fails a gate is skipped without error; dispatch is the
// pipeline's point of truth, not its caller.
func (f *Federation) Dispatch(post *domain.Post) error {
	if !f.Policy.CanFederate(post) {
		log.Printf("Federation: Post %s not eligible, skipping", post.Id)
		return nil
	}

	err, author := f.DB.ReadUserById(post.AuthorId)
	if err != nil {
		return fmt.Errorf("failed to read author for post %s: %w", post.Id, err)
	}

	actor, err := f.Registry.FindOrCreateForUser(author)
	if err != nil {
		return fmt.Errorf("failed to resolve actor for %s: %w", author.Username, err)
	}
	if !actor.Active {
		log.Printf("Federation: Actor %s is deactivated, skipping post %s", actor.ActorURI, post.Id)
		return nil
	}

	if _, err := f.Keys.EnsureKeysFor(actor); err != nil {
		return fmt.Errorf("failed to provision keys for %s: %w", actor.ActorURI, err)
	}

	create, noteURI, activityURI := BuildCreate(post, actor, f.Conf.Conf.SslDomain)
	rawJSON, err := json.Marshal(create)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activityURI,
		ActivityType: "Create",
		ActorURI:     actor.ActorURI,
		ObjectURI:    noteURI,
		RawJSON:      string(rawJSON),
		Processed:    true,
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if err := f.DB.CreateActivity(activity); err != nil {
		return fmt.Errorf("failed to store activity: %w", err)
	}

	err, followers := f.DB.ReadFollowersByActorId(actor.Id)
	if err != nil {
		return fmt.Errorf("failed to read followers for %s: %w", actor.ActorURI, err)
	}

	targets := ResolveDeliveryTargets(*followers)
	scheduled := f.Engine.ScheduleDeliveries(activity, actor, targets)
	log.Printf("Federation: Dispatched post %s as %s to %d inboxes", post.Id, activityURI, scheduled)

	// Record the decision if the post federated on the author default
	if err, ps := f.DB.ReadPostSettings(post.Id); err == nil && ps == nil {
		if uerr := f.DB.UpsertPostSettings(post.Id, true); uerr != nil {
			log.Printf("Federation: Failed to record post settings for %s: %v", post.Id, uerr)
		}
	}
	if err := f.DB.MarkPostFederated(post.Id, time.Now(), noteURI, activityURI); err != nil {
		return fmt.Errorf("failed to mark post federated: %w", err)
	}

	f.announceToCommunity(post, noteURI)
	return nil
}

// announceToCommunity boosts the note from the community's group actor
// when the community has auto-announce enabled
func (f *Federation) announceToCommunity(post *domain.Post, noteURI string) {
	if !post.CommunityId.Valid {
		return
	}

	err, ss := f.DB.ReadSubSettings(post.CommunityId.UUID)
	if err != nil || ss == nil || !ss.FederationEnabled || !ss.AutoAnnounce {
		return
	}

	err, community := f.DB.ReadCommunityById(post.CommunityId.UUID)
	if err != nil {
		log.Printf("Federation: Failed to read community %s: %v", post.CommunityId.UUID, err)
		return
	}

	groupActor, aerr := f.Registry.FindOrCreateForCommunity(community)
	if aerr != nil {
		log.Printf("Federation: Failed to resolve group actor for %s: %v", community.Name, aerr)
		return
	}
	if !groupActor.Active {
		return
	}

	announce, activityURI := BuildAnnounce(groupActor, noteURI, f.Conf.Conf.SslDomain)
	rawJSON, merr := json.Marshal(announce)
	if merr != nil {
		log.Printf("Federation: Failed to marshal announce: %v", merr)
		return
	}

	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activityURI,
		ActivityType: "Announce",
		ActorURI:     groupActor.ActorURI,
		ObjectURI:    noteURI,
		RawJSON:      string(rawJSON),
		Processed:    true,
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if err := f.DB.CreateActivity(activity); err != nil {
		log.Printf("Federation: Failed to store announce: %v", err)
		return
	}

	err, followers := f.DB.ReadFollowersByActorId(groupActor.Id)
	if err != nil {
		log.Printf("Federation: Failed to read group followers: %v", err)
		return
	}
	targets := ResolveDeliveryTargets(*followers)
	f.Engine.ScheduleDeliveries(activity, groupActor, targets)
}

// ProcessPendingFederation drains posts flagged for federation that
// have not gone out yet
func (f *Federation) ProcessPendingFederation() {
	posts, err := f.Policy.PendingFederation(pendingFederationMax)
	if err != nil {
		log.Printf("Federation: Failed to read pending posts: %v", err)
		return
	}
	for i := range posts {
		if err := f.Dispatch(&posts[i]); err != nil {
			log.Printf("Federation: Dispatch failed for post %s: %v", posts[i].Id, err)
		}
	}
}

// Start launches the background loops: the delivery worker, the
// pending-post drain, the expired-block sweep, and telemetry cleanup
func (f *Federation) Start(quit chan struct{}) {
	f.Engine.StartWorker(quit)

	federationTicker := time.NewTicker(federationTickPeriod)
	blockTicker := time.NewTicker(blockSweepPeriod)
	telemetryTicker := time.NewTicker(telemetrySweepPeriod)

	go func() {
		for {
			select {
			case <-federationTicker.C:
				f.ProcessPendingFederation()
			case <-blockTicker.C:
				if n, err := f.Blocklist.SweepExpired(); err != nil {
					log.Printf("Federation: Block sweep failed: %v", err)
				} else if n > 0 {
					log.Printf("Federation: Expired %d instance blocks", n)
				}
			case <-telemetryTicker.C:
				if n, err := f.DB.CleanupDeliveryLog(telemetryRetainDays); err != nil {
					log.Printf("Federation: Telemetry cleanup failed: %v", err)
				} else if n > 0 {
					log.Printf("Federation: Pruned %d telemetry rows", n)
				}
			case <-quit:
				federationTicker.Stop()
				blockTicker.Stop()
				telemetryTicker.Stop()
				return
			}
		}
	}()
}
