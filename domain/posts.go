package domain

import (
	"time"

	"github.com/google/uuid"
)

// PostStatus is the publication state of a post
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPending   PostStatus = "pending"
	PostPublished PostStatus = "published"
	PostHidden    PostStatus = "hidden"
)

// User is a local platform account
type User struct {
	Id        uuid.UUID
	Username  string
	CreatedAt time.Time
}

// Community is a local group that posts can belong to
type Community struct {
	Id        uuid.UUID
	Name      string
	Title     string
	CreatedAt time.Time
}

// Post is a local content item, the unit of outbound federation
type Post struct {
	Id          uuid.UUID
	AuthorId    uuid.UUID
	CommunityId uuid.NullUUID
	Title       string
	Content     string
	Status      PostStatus
	CreatedAt   time.Time
}

// Published reports whether the post is in its published state
func (p *Post) Published() bool {
	return p.Status == PostPublished
}

// PostSettings is the content-level federation tier. A missing row
// means no explicit decision was recorded for the post and the
// author's default applies.
type PostSettings struct {
	PostId         uuid.UUID
	ShouldFederate bool
	Federated      bool
	FederatedAt    *time.Time
	NoteURI        string
	ActivityURI    string
	CreatedAt      time.Time
}

// UserSettings is the identity-level federation tier, one per user,
// created on demand with federation off.
type UserSettings struct {
	UserId               uuid.UUID
	FederationEnabled    bool
	DefaultFederatePosts bool
	Indexable            bool
	ShowFollowerCount    bool
	CreatedAt            time.Time
}

// SubSettings is the community-level federation tier. Communities
// with no settings row are neutral for the eligibility cascade.
type SubSettings struct {
	CommunityId         uuid.UUID
	FederationEnabled   bool
	AutoAnnounce        bool
	AcceptRemoteContent bool
	CreatedAt           time.Time
}
