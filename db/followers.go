package db

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
)

// Follower queries
const (
	sqlUpsertFollower = `INSERT INTO followers(id, actor_id, remote_actor_uri, remote_inbox_uri, remote_shared_inbox, remote_domain, remote_username, remote_display_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_id, remote_actor_uri) DO UPDATE SET
			remote_inbox_uri = excluded.remote_inbox_uri,
			remote_shared_inbox = excluded.remote_shared_inbox,
			remote_username = excluded.remote_username,
			remote_display_name = excluded.remote_display_name`
	sqlSelectFollowerColumns   = `id, actor_id, remote_actor_uri, remote_inbox_uri, remote_shared_inbox, remote_domain, remote_username, remote_display_name, created_at`
	sqlSelectFollowersByActor  = `SELECT ` + sqlSelectFollowerColumns + ` FROM followers WHERE actor_id = ? ORDER BY created_at ASC`
	sqlSelectFollower          = `SELECT ` + sqlSelectFollowerColumns + ` FROM followers WHERE actor_id = ? AND remote_actor_uri = ?`
	sqlDeleteFollower          = `DELETE FROM followers WHERE actor_id = ? AND remote_actor_uri = ?`
	sqlCountFollowersByActor   = `SELECT COUNT(*) FROM followers WHERE actor_id = ?`
	sqlDeleteFollowersByDomain = `DELETE FROM followers WHERE remote_domain = ?`
)

func (db *DB) UpsertFollower(f *domain.Follower) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollower,
			f.Id.String(),
			f.ActorId.String(),
			f.RemoteActorURI,
			f.RemoteInboxURI,
			f.RemoteSharedInbox,
			f.RemoteDomain,
			f.RemoteUsername,
			f.RemoteDisplayName,
			f.CreatedAt,
		)
		return err
	})
}

func scanFollower(row interface{ Scan(...interface{}) error }) (error, *domain.Follower) {
	var f domain.Follower
	var idStr, actorStr string
	err := row.Scan(
		&idStr,
		&actorStr,
		&f.RemoteActorURI,
		&f.RemoteInboxURI,
		&f.RemoteSharedInbox,
		&f.RemoteDomain,
		&f.RemoteUsername,
		&f.RemoteDisplayName,
		&f.CreatedAt,
	)
	if err != nil {
		return err, nil
	}
	f.Id, _ = uuid.Parse(idStr)
	f.ActorId, _ = uuid.Parse(actorStr)
	return nil, &f
}

func (db *DB) ReadFollowersByActorId(actorId uuid.UUID) (error, *[]domain.Follower) {
	rows, err := db.db.Query(sqlSelectFollowersByActor, actorId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		err, f := scanFollower(rows)
		if err != nil {
			return err, &followers
		}
		followers = append(followers, *f)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func (db *DB) ReadFollower(actorId uuid.UUID, remoteActorURI string) (error, *domain.Follower) {
	return scanFollower(db.db.QueryRow(sqlSelectFollower, actorId.String(), remoteActorURI))
}

func (db *DB) DeleteFollower(actorId uuid.UUID, remoteActorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollower, actorId.String(), remoteActorURI)
		return err
	})
}

func (db *DB) CountFollowersByActorId(actorId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountFollowersByActor, actorId.String()).Scan(&count)
	return err, count
}

// DeleteFollowersByDomain removes all subscriptions from a domain,
// used by instance-initiated cleanup after a full block
func (db *DB) DeleteFollowersByDomain(remoteDomain string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowersByDomain, remoteDomain)
		return err
	})
}
