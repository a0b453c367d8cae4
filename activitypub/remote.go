package activitypub

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

// ActorDocument represents the JSON structure of a remote
// ActivityPub actor
type ActorDocument struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// remoteFreshness is how long a cached remote actor document is
// trusted before a re-fetch
const remoteFreshness = 24 * time.Hour

// RemoteResolver fetches and caches remote actor documents by URI.
// Lookups hit a small in-process LRU first, then the database cache,
// then the network.
type RemoteResolver struct {
	db     *db.DB
	client *http.Client
	cache  *expirable.LRU[string, *domain.RemoteAccount]
}

// newFetchClient builds the client used for actor/key fetches. Unlike
// the delivery client it retries internally: fetch retries do not
// interfere with any attempt counter.
func newFetchClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.HTTPClient.Timeout = 10 * time.Second
	retryClient.Logger = nil
	return retryClient.StandardClient()
}

func NewRemoteResolver(database *db.DB) *RemoteResolver {
	return &RemoteResolver{
		db:     database,
		client: newFetchClient(),
		cache:  expirable.NewLRU[string, *domain.RemoteAccount](1024, nil, time.Hour),
	}
}

// FetchRemoteActor fetches an actor from a remote server and stores
// it in the cache
func (rr *RemoteResolver) FetchRemoteActor(actorURI string) (*domain.RemoteAccount, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := rr.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorDocument
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	// Validate required fields
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := util.ExtractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	remoteAcc := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      actor.PreferredUsername,
		Domain:        domainName,
		ActorURI:      actor.ID,
		DisplayName:   actor.Name,
		Summary:       actor.Summary,
		InboxURI:      actor.Inbox,
		SharedInbox:   actor.Endpoints.SharedInbox,
		OutboxURI:     actor.Outbox,
		PublicKeyPem:  actor.PublicKey.PublicKeyPem,
		AvatarURL:     actor.Icon.URL,
		LastFetchedAt: time.Now(),
	}

	err = rr.db.CreateRemoteAccount(remoteAcc)
	if err != nil {
		// If already cached, update the row instead
		err = rr.db.UpdateRemoteAccount(remoteAcc)
		if err != nil {
			return nil, fmt.Errorf("failed to store remote account: %w", err)
		}
		// Keep the original row id
		if rerr, stored := rr.db.ReadRemoteAccountByURI(remoteAcc.ActorURI); rerr == nil && stored != nil {
			remoteAcc = stored
		}
	}

	rr.cache.Add(actorURI, remoteAcc)
	return remoteAcc, nil
}

// GetOrFetchActor returns an actor from cache or fetches it if not
// cached or stale
func (rr *RemoteResolver) GetOrFetchActor(actorURI string) (*domain.RemoteAccount, error) {
	if cached, ok := rr.cache.Get(actorURI); ok {
		if time.Since(cached.LastFetchedAt) < remoteFreshness {
			return cached, nil
		}
	}

	err, stored := rr.db.ReadRemoteAccountByURI(actorURI)
	if err == nil && stored != nil {
		if time.Since(stored.LastFetchedAt) < remoteFreshness {
			rr.cache.Add(actorURI, stored)
			return stored, nil
		}
	} else if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return rr.FetchRemoteActor(actorURI)
}
