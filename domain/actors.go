package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorKind tells which kind of local identity an actor speaks for
type ActorKind string

const (
	ActorKindInstance ActorKind = "instance"
	ActorKindUser     ActorKind = "user"
	ActorKindGroup    ActorKind = "group"
)

// ActivityPubType returns the protocol type for the kind
func (k ActorKind) ActivityPubType() string {
	switch k {
	case ActorKindInstance:
		return "Application"
	case ActorKindGroup:
		return "Group"
	default:
		return "Person"
	}
}

// Actor represents a local federatable identity (the instance itself,
// a user, or a community). At most one active actor exists per
// (kind, owner) pair; the instance actor is a singleton.
type Actor struct {
	Id           uuid.UUID
	Kind         ActorKind
	ActorType    string // Application, Person, Group
	OwnerId      uuid.NullUUID
	Username     string
	ActorURI     string
	InboxURI     string
	OutboxURI    string
	FollowersURI string
	Summary      string
	IconURL      string
	Active       bool
	CreatedAt    time.Time
}

// KeyId returns the key identifier embedded in the actor document
func (a *Actor) KeyId() string {
	return fmt.Sprintf("%s#main-key", a.ActorURI)
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tKind: %s \n\tUsername: %s \n\tActorURI: %s", a.Id, a.Kind, a.Username, a.ActorURI)
}

// ActorKey holds the RSA key pair of an actor. Exactly one per actor;
// the private half is stored encrypted and never rendered anywhere.
type ActorKey struct {
	Id            uuid.UUID
	ActorId       uuid.UUID
	KeyId         string
	PublicKeyPem  string
	PrivateKeyEnc string // sealed PEM, see util.Seal
	CreatedAt     time.Time
}

// Follower is a remote subscription to a local actor's outbox,
// unique per (actor, remote actor URI).
type Follower struct {
	Id                uuid.UUID
	ActorId           uuid.UUID
	RemoteActorURI    string
	RemoteInboxURI    string
	RemoteSharedInbox string
	RemoteDomain      string
	RemoteUsername    string
	RemoteDisplayName string
	CreatedAt         time.Time
}

// PreferredInbox returns the endpoint a delivery should target,
// preferring the instance-wide shared inbox over the personal one.
func (f *Follower) PreferredInbox() string {
	if f.RemoteSharedInbox != "" {
		return f.RemoteSharedInbox
	}
	return f.RemoteInboxURI
}

// RemoteAccount represents a cached remote actor document
type RemoteAccount struct {
	Id            uuid.UUID
	Username      string
	Domain        string
	ActorURI      string
	DisplayName   string
	Summary       string
	InboxURI      string
	SharedInbox   string
	OutboxURI     string
	PublicKeyPem  string
	AvatarURL     string
	LastFetchedAt time.Time
}
