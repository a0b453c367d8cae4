package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"
const publicAudience = "https://www.w3.org/ns/activitystreams#Public"

// NewActivityURI mints a URI for a locally created activity
func NewActivityURI(sslDomain string) string {
	return fmt.Sprintf("https://%s/activities/%s", sslDomain, uuid.New().String())
}

// NoteURI is the object URI a local post federates under
func NoteURI(sslDomain string, postId uuid.UUID) string {
	return fmt.Sprintf("https://%s/posts/%s", sslDomain, postId.String())
}

// BuildCreate renders the Create activity for a post, addressed to
// the public audience and the actor's followers
func BuildCreate(post *domain.Post, actor *domain.Actor, sslDomain string) (map[string]interface{}, string, string) {
	noteURI := NoteURI(sslDomain, post.Id)
	activityURI := NewActivityURI(sslDomain)
	published := post.CreatedAt.Format(time.RFC3339)

	content := post.Content
	if post.Title != "" {
		content = fmt.Sprintf("<p><strong>%s</strong></p><p>%s</p>", util.NormalizeInput(post.Title), util.NormalizeInput(post.Content))
	}

	create := map[string]interface{}{
		"@context":  activityStreamsContext,
		"id":        activityURI,
		"type":      "Create",
		"actor":     actor.ActorURI,
		"published": published,
		"to":        []string{publicAudience},
		"cc":        []string{actor.FollowersURI},
		"object": map[string]interface{}{
			"id":           noteURI,
			"type":         "Note",
			"attributedTo": actor.ActorURI,
			"content":      content,
			"published":    published,
			"to":           []string{publicAudience},
			"cc":           []string{actor.FollowersURI},
		},
	}

	return create, noteURI, activityURI
}

// BuildAccept renders the Accept sent in response to a Follow
func BuildAccept(actor *domain.Actor, remoteActorURI, followID, sslDomain string) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       NewActivityURI(sslDomain),
		"type":     "Accept",
		"actor":    actor.ActorURI,
		"object": map[string]interface{}{
			"id":     followID,
			"type":   "Follow",
			"actor":  remoteActorURI,
			"object": actor.ActorURI,
		},
	}
}

// BuildAnnounce renders the boost a group actor sends to its
// followers when a community auto-announces a post
func BuildAnnounce(groupActor *domain.Actor, objectURI, sslDomain string) (map[string]interface{}, string) {
	activityURI := NewActivityURI(sslDomain)
	return map[string]interface{}{
		"@context":  activityStreamsContext,
		"id":        activityURI,
		"type":      "Announce",
		"actor":     groupActor.ActorURI,
		"object":    objectURI,
		"published": time.Now().Format(time.RFC3339),
		"to":        []string{publicAudience},
		"cc":        []string{groupActor.FollowersURI},
	}, activityURI
}

// SendActivity synchronously delivers one signed activity to a remote
// inbox. Used for protocol responses (Accept); fan-out deliveries go
// through the delivery engine instead.
func SendActivity(activity interface{}, inboxURI string, actor *domain.Actor, keys *KeyManager) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	privateKey, keyId, err := keys.SigningKeyFor(actor)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	req, err := newSignedInboxRequest(activityJSON, inboxURI, privateKey, keyId)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Outbox: Sent activity to %s (status: %d)", inboxURI, resp.StatusCode)
	return nil
}
