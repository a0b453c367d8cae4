package db

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
)

// Actor queries
const (
	sqlInsertActor = `INSERT INTO actors(id, kind, actor_type, owner_id, username, actor_uri, inbox_uri, outbox_uri, followers_uri, summary, icon_url, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActorColumns = `id, kind, actor_type, owner_id, username, actor_uri, inbox_uri, outbox_uri, followers_uri, summary, icon_url, active, created_at`
	sqlSelectActorById    = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE id = ?`
	sqlSelectActorByURI   = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE actor_uri = ?`
	sqlSelectActorByOwner = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE kind = ? AND owner_id = ?`
	sqlSelectInstanceActor = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE kind = 'instance'`
	sqlSelectActorByName  = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE username = ? AND kind = ? AND active = 1`
	sqlDeactivateActor    = `UPDATE actors SET active = 0 WHERE id = ?`
)

func (db *DB) CreateActor(actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var owner interface{}
		if actor.OwnerId.Valid {
			owner = actor.OwnerId.UUID.String()
		}
		_, err := tx.Exec(sqlInsertActor,
			actor.Id.String(),
			string(actor.Kind),
			actor.ActorType,
			owner,
			actor.Username,
			actor.ActorURI,
			actor.InboxURI,
			actor.OutboxURI,
			actor.FollowersURI,
			actor.Summary,
			actor.IconURL,
			actor.Active,
			actor.CreatedAt,
		)
		return err
	})
}

func scanActor(row interface{ Scan(...interface{}) error }) (error, *domain.Actor) {
	var actor domain.Actor
	var idStr, kind string
	var ownerStr sql.NullString
	err := row.Scan(
		&idStr,
		&kind,
		&actor.ActorType,
		&ownerStr,
		&actor.Username,
		&actor.ActorURI,
		&actor.InboxURI,
		&actor.OutboxURI,
		&actor.FollowersURI,
		&actor.Summary,
		&actor.IconURL,
		&actor.Active,
		&actor.CreatedAt,
	)
	if err != nil {
		return err, nil
	}
	actor.Id, _ = uuid.Parse(idStr)
	actor.Kind = domain.ActorKind(kind)
	if ownerStr.Valid {
		ownerId, perr := uuid.Parse(ownerStr.String)
		if perr == nil {
			actor.OwnerId = uuid.NullUUID{UUID: ownerId, Valid: true}
		}
	}
	return nil, &actor
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) ReadActorByURI(uri string) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByURI, uri))
}

func (db *DB) ReadActorByOwner(kind domain.ActorKind, ownerId uuid.UUID) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByOwner, string(kind), ownerId.String()))
}

func (db *DB) ReadInstanceActor() (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectInstanceActor))
}

func (db *DB) ReadActorByUsername(username string, kind domain.ActorKind) (error, *domain.Actor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByName, username, string(kind)))
}

func (db *DB) DeactivateActor(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeactivateActor, id.String())
		return err
	})
}

// Actor key queries
const (
	sqlInsertActorKey        = `INSERT INTO actor_keys(id, actor_id, key_id, public_key_pem, private_key_enc, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectActorKeyByActor = `SELECT id, actor_id, key_id, public_key_pem, private_key_enc, created_at FROM actor_keys WHERE actor_id = ?`
	sqlDeleteActorKeyByActor = `DELETE FROM actor_keys WHERE actor_id = ?`
)

// CreateActorKey inserts a key pair for an actor. The caller must
// inspect the error with IsUniqueViolation: losing the insert race
// means another caller generated the winning pair.
func (db *DB) CreateActorKey(key *domain.ActorKey) error {
	ctx, cancel := txContext()
	defer cancel()
	_, err := db.db.ExecContext(ctx, sqlInsertActorKey,
		key.Id.String(),
		key.ActorId.String(),
		key.KeyId,
		key.PublicKeyPem,
		key.PrivateKeyEnc,
		key.CreatedAt,
	)
	return err
}

func (db *DB) ReadActorKeyByActorId(actorId uuid.UUID) (error, *domain.ActorKey) {
	row := db.db.QueryRow(sqlSelectActorKeyByActor, actorId.String())
	var key domain.ActorKey
	var idStr, actorStr string
	err := row.Scan(&idStr, &actorStr, &key.KeyId, &key.PublicKeyPem, &key.PrivateKeyEnc, &key.CreatedAt)
	if err != nil {
		return err, nil
	}
	key.Id, _ = uuid.Parse(idStr)
	key.ActorId, _ = uuid.Parse(actorStr)
	return nil, &key
}

// DeleteActorKey removes the key pair of an actor so a fresh pair can
// be provisioned after a signing failure
func (db *DB) DeleteActorKey(actorId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActorKeyByActor, actorId.String())
		return err
	})
}
