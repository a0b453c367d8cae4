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

// inboundActivity is the minimal envelope parsed from an inbox POST.
// The object is kept raw because its shape depends on the type.
type inboundActivity struct {
	Id     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}

// objectRef resolves the activity object to a URI plus an optional
// embedded type; ActivityPub allows either a bare string or an object
func (ia *inboundActivity) objectRef() (uri string, objType string) {
	if len(ia.Object) == 0 {
		return "", ""
	}
	var s string
	if err := json.Unmarshal(ia.Object, &s); err == nil {
		return s, ""
	}
	var embedded struct {
		Id   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(ia.Object, &embedded); err == nil {
		return embedded.Id, embedded.Type
	}
	return "", ""
}

// HandleInbox processes one signed inbox POST addressed to a local
// actor. The trust check runs before anything else: senders on fully
// blocked instances are rejected without a signature fetch or any
// database write. Returns the HTTP status the caller should respond
// with.
func (f *Federation) HandleInbox(req *http.Request, body []byte, recipient *domain.Actor) (int, error) {
	var activity inboundActivity
	if err := json.Unmarshal(body, &activity); err != nil {
		return http.StatusBadRequest, fmt.Errorf("invalid activity JSON: %w", err)
	}
	if activity.Actor == "" || activity.Type == "" {
		return http.StatusBadRequest, fmt.Errorf("activity missing actor or type")
	}

	senderDomain, err := util.ExtractDomain(activity.Actor)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("malformed actor URI: %w", err)
	}
	if f.Blocklist.IsBlocked(senderDomain) {
		return http.StatusForbidden, fmt.Errorf("instance %s is blocked", senderDomain)
	}

	remote, err := f.Resolver.GetOrFetchActor(activity.Actor)
	if err != nil {
		return http.StatusUnauthorized, fmt.Errorf("failed to resolve sender %s: %w", activity.Actor, err)
	}

	signerURI, err := VerifyRequest(req, remote.PublicKeyPem)
	if err != nil {
		return http.StatusUnauthorized, err
	}
	if signerURI != remote.ActorURI {
		return http.StatusUnauthorized, fmt.Errorf("signature key %s does not belong to %s", signerURI, remote.ActorURI)
	}

	// Replays of an already stored activity are acknowledged silently
	if activity.Id != "" {
		if rerr, existing := f.DB.ReadActivityByURI(activity.Id); rerr == nil && existing != nil {
			return http.StatusAccepted, nil
		}
	}

	switch activity.Type {
	case "Follow":
		return f.handleFollow(&activity, remote, recipient, body)
	case "Undo":
		return f.handleUndo(&activity, recipient, body)
	case "Create":
		return f.handleCreate(&activity, remote, recipient, body, senderDomain)
	case "Delete":
		return f.handleDelete(&activity, remote, recipient, body)
	default:
		log.Printf("Inbox: Ignoring unsupported activity type %s from %s", activity.Type, activity.Actor)
		return http.StatusAccepted, nil
	}
}

func (f *Federation) handleFollow(activity *inboundActivity, remote *domain.RemoteAccount, recipient *domain.Actor, body []byte) (int, error) {
	if !recipient.Active {
		return http.StatusForbidden, fmt.Errorf("actor %s is deactivated", recipient.ActorURI)
	}

	if _, err := RegisterFollower(f.DB, recipient, remote); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("failed to register follower: %w", err)
	}
	f.storeInbound(activity, body, true)

	// Accept asynchronously so a slow remote never stalls the inbox
	accept := BuildAccept(recipient, remote.ActorURI, activity.Id, f.Conf.Conf.SslDomain)
	go func() {
		if err := SendActivity(accept, remote.InboxURI, recipient, f.Keys); err != nil {
			log.Printf("Inbox: Failed to send Accept to %s: %v", remote.InboxURI, err)
		}
	}()

	log.Printf("Inbox: %s now follows %s", remote.ActorURI, recipient.ActorURI)
	return http.StatusAccepted, nil
}

func (f *Federation) handleUndo(activity *inboundActivity, recipient *domain.Actor, body []byte) (int, error) {
	_, objType := activity.objectRef()
	if objType != "Follow" {
		log.Printf("Inbox: Ignoring Undo of %s from %s", objType, activity.Actor)
		return http.StatusAccepted, nil
	}

	if err := RemoveFollower(f.DB, recipient, activity.Actor); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("failed to remove follower: %w", err)
	}
	f.storeInbound(activity, body, true)

	log.Printf("Inbox: %s unfollowed %s", activity.Actor, recipient.ActorURI)
	return http.StatusAccepted, nil
}

// handleCreate accepts remote content only for group actors whose
// community opted in; everything else is acknowledged and dropped
func (f *Federation) handleCreate(activity *inboundActivity, remote *domain.RemoteAccount, recipient *domain.Actor, body []byte, senderDomain string) (int, error) {
	if recipient.Kind != domain.ActorKindGroup || !recipient.OwnerId.Valid {
		return http.StatusAccepted, nil
	}
	if f.Blocklist.IsSilenced(senderDomain) {
		log.Printf("Inbox: Dropping content from silenced instance %s", senderDomain)
		return http.StatusAccepted, nil
	}

	err, ss := f.DB.ReadSubSettings(recipient.OwnerId.UUID)
	if err != nil || ss == nil || !ss.AcceptRemoteContent {
		return http.StatusAccepted, nil
	}

	f.storeInbound(activity, body, false)
	log.Printf("Inbox: Stored remote content from %s for community actor %s", remote.ActorURI, recipient.ActorURI)
	return http.StatusAccepted, nil
}

// handleDelete processes a remote actor deleting itself: the
// subscription and the cached account go away. Deletes of anything
// other than the sender are acknowledged and ignored.
func (f *Federation) handleDelete(activity *inboundActivity, remote *domain.RemoteAccount, recipient *domain.Actor, body []byte) (int, error) {
	objectURI, _ := activity.objectRef()
	if objectURI != "" && objectURI != activity.Actor {
		log.Printf("Inbox: Ignoring Delete of %s from %s", objectURI, activity.Actor)
		return http.StatusAccepted, nil
	}

	if err := RemoveFollower(f.DB, recipient, activity.Actor); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("failed to remove follower: %w", err)
	}
	if err := f.DB.DeleteRemoteAccount(remote.Id); err != nil {
		log.Printf("Inbox: Failed to delete cached account %s: %v", remote.ActorURI, err)
	}
	f.storeInbound(activity, body, true)

	log.Printf("Inbox: %s deleted itself, cleaned up", activity.Actor)
	return http.StatusAccepted, nil
}

// storeInbound persists the raw activity for dedup and audit; a
// failure here is logged, not surfaced, since the protocol action
// already happened
func (f *Federation) storeInbound(activity *inboundActivity, body []byte, processed bool) {
	objectURI, _ := activity.objectRef()
	row := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activity.Id,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    objectURI,
		RawJSON:      string(body),
		Processed:    processed,
		Local:        false,
		CreatedAt:    time.Now(),
	}
	if err := f.DB.CreateActivity(row); err != nil {
		log.Printf("Inbox: Failed to store activity %s: %v", activity.Id, err)
	}
}
