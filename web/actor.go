package web

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/activitypub"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

// GetActor renders the public actor document for a local name
func GetActor(name string, kind domain.ActorKind, fed *activitypub.Federation) (error, string) {
	actor, err := fed.Registry.FindByUsername(name, kind)
	if err != nil {
		return err, ""
	}
	if actor == nil {
		return fmt.Errorf("no actor named %s", name), ""
	}
	doc, err := fed.Registry.ToPublicDocument(actor)
	if err != nil {
		return err, ""
	}
	return nil, doc
}

// GetInstanceActor renders the instance-level Application actor
func GetInstanceActor(fed *activitypub.Federation) (error, string) {
	actor, err := fed.Registry.FindOrCreateInstanceActor()
	if err != nil {
		return err, ""
	}
	doc, err := fed.Registry.ToPublicDocument(actor)
	if err != nil {
		return err, ""
	}
	return nil, doc
}

// GetFollowersCollection renders the followers collection. Only the
// count is exposed, and the count respects the owner's visibility
// setting.
func GetFollowersCollection(name string, kind domain.ActorKind, fed *activitypub.Federation) (error, string) {
	actor, err := fed.Registry.FindByUsername(name, kind)
	if err != nil {
		return err, ""
	}
	if actor == nil {
		return fmt.Errorf("no actor named %s", name), ""
	}

	count, err := fed.Registry.PublicFollowerCount(actor)
	if err != nil {
		return err, ""
	}

	return nil, fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "%s",
		"type": "OrderedCollection",
		"totalItems": %d
	}`, actor.FollowersURI, count)
}

// GetNoteObject renders a federated post as its public Note object
func GetNoteObject(postId uuid.UUID, fed *activitypub.Federation) (error, string) {
	err, post := fed.DB.ReadPostById(postId)
	if err != nil {
		return err, ""
	}
	if !post.Published() {
		return fmt.Errorf("post %s is not published", postId), ""
	}

	// Only posts that actually went out have a public object
	err, ps := fed.DB.ReadPostSettings(postId)
	if err != nil || ps == nil || !ps.Federated {
		return fmt.Errorf("post %s is not federated", postId), ""
	}

	err, author := fed.DB.ReadUserById(post.AuthorId)
	if err != nil {
		return err, ""
	}
	actor, aerr := fed.Registry.FindOrCreateForUser(author)
	if aerr != nil {
		return aerr, ""
	}

	content := util.NormalizeInput(post.Content)
	if post.Title != "" {
		content = fmt.Sprintf("<p><strong>%s</strong></p><p>%s</p>", util.NormalizeInput(post.Title), content)
	}

	return nil, fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "%s",
		"type": "Note",
		"attributedTo": "%s",
		"content": %q,
		"published": "%s",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"cc": ["%s"]
	}`, ps.NoteURI, actor.ActorURI, content, post.CreatedAt.Format(time.RFC3339), actor.FollowersURI)
}
