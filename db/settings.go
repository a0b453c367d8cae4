package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
)

// Federation settings queries, three independent tiers. Each tier is
// created on demand with safe defaults (federation off); the post
// tier additionally distinguishes "no row" (no explicit decision,
// author default applies) from an explicit opt-in/out.
const (
	sqlInsertPostSettings = `INSERT INTO post_settings(post_id, should_federate, federated, created_at) VALUES (?, ?, 0, ?)
		ON CONFLICT(post_id) DO UPDATE SET should_federate = excluded.should_federate`
	sqlSelectPostSettings = `SELECT post_id, should_federate, federated, federated_at, note_uri, activity_uri, created_at FROM post_settings WHERE post_id = ?`
	sqlMarkPostFederated  = `UPDATE post_settings SET federated = 1, federated_at = ?, note_uri = ?, activity_uri = ? WHERE post_id = ?`

	sqlInsertUserSettings = `INSERT INTO user_settings(user_id, federation_enabled, default_federate_posts, indexable, show_follower_count, created_at)
		VALUES (?, 0, 0, 1, 1, ?) ON CONFLICT(user_id) DO NOTHING`
	sqlSelectUserSettings = `SELECT user_id, federation_enabled, default_federate_posts, indexable, show_follower_count, created_at FROM user_settings WHERE user_id = ?`
	sqlUpdateUserSettings = `UPDATE user_settings SET federation_enabled = ?, default_federate_posts = ?, indexable = ?, show_follower_count = ? WHERE user_id = ?`

	sqlInsertSubSettings = `INSERT INTO sub_settings(community_id, federation_enabled, auto_announce, accept_remote_content, created_at)
		VALUES (?, 0, 0, 0, ?) ON CONFLICT(community_id) DO NOTHING`
	sqlSelectSubSettings = `SELECT community_id, federation_enabled, auto_announce, accept_remote_content, created_at FROM sub_settings WHERE community_id = ?`
	sqlUpdateSubSettings = `UPDATE sub_settings SET federation_enabled = ?, auto_announce = ?, accept_remote_content = ? WHERE community_id = ?`

	// Working set: posts flagged to federate but not yet federated.
	// Consumers must re-check eligibility at dispatch time; the flag
	// alone is not trusted.
	sqlSelectPendingFederation = `SELECT p.id, p.author_id, p.community_id, p.title, p.content, p.status, p.created_at
		FROM posts p INNER JOIN post_settings ps ON ps.post_id = p.id
		WHERE ps.should_federate = 1 AND ps.federated = 0
		ORDER BY p.created_at ASC LIMIT ?`
)

// UpsertPostSettings records an explicit federation decision for a post
func (db *DB) UpsertPostSettings(postId uuid.UUID, shouldFederate bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPostSettings, postId.String(), shouldFederate, time.Now())
		return err
	})
}

// ReadPostSettings returns nil without error when no explicit
// decision was recorded for the post
func (db *DB) ReadPostSettings(postId uuid.UUID) (error, *domain.PostSettings) {
	row := db.db.QueryRow(sqlSelectPostSettings, postId.String())
	var ps domain.PostSettings
	var idStr string
	var federatedAt sql.NullTime
	var noteURI, activityURI sql.NullString
	err := row.Scan(&idStr, &ps.ShouldFederate, &ps.Federated, &federatedAt, &noteURI, &activityURI, &ps.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	ps.PostId, _ = uuid.Parse(idStr)
	if federatedAt.Valid {
		t := federatedAt.Time
		ps.FederatedAt = &t
	}
	ps.NoteURI = noteURI.String
	ps.ActivityURI = activityURI.String
	return nil, &ps
}

func (db *DB) MarkPostFederated(postId uuid.UUID, federatedAt time.Time, noteURI, activityURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkPostFederated, federatedAt, noteURI, activityURI, postId.String())
		return err
	})
}

// FindOrCreateUserSettings returns the user's federation settings,
// creating the row with federation off if none exists
func (db *DB) FindOrCreateUserSettings(userId uuid.UUID) (error, *domain.UserSettings) {
	if err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUserSettings, userId.String(), time.Now())
		return err
	}); err != nil {
		return err, nil
	}
	return db.readUserSettings(userId)
}

func (db *DB) readUserSettings(userId uuid.UUID) (error, *domain.UserSettings) {
	row := db.db.QueryRow(sqlSelectUserSettings, userId.String())
	var us domain.UserSettings
	var idStr string
	err := row.Scan(&idStr, &us.FederationEnabled, &us.DefaultFederatePosts, &us.Indexable, &us.ShowFollowerCount, &us.CreatedAt)
	if err != nil {
		return err, nil
	}
	us.UserId, _ = uuid.Parse(idStr)
	return nil, &us
}

func (db *DB) UpdateUserSettings(us *domain.UserSettings) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateUserSettings,
			us.FederationEnabled,
			us.DefaultFederatePosts,
			us.Indexable,
			us.ShowFollowerCount,
			us.UserId.String(),
		)
		return err
	})
}

// ReadSubSettings returns nil without error when the community has no
// settings row; the eligibility cascade treats that as neutral
func (db *DB) ReadSubSettings(communityId uuid.UUID) (error, *domain.SubSettings) {
	row := db.db.QueryRow(sqlSelectSubSettings, communityId.String())
	var ss domain.SubSettings
	var idStr string
	err := row.Scan(&idStr, &ss.FederationEnabled, &ss.AutoAnnounce, &ss.AcceptRemoteContent, &ss.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	ss.CommunityId, _ = uuid.Parse(idStr)
	return nil, &ss
}

func (db *DB) FindOrCreateSubSettings(communityId uuid.UUID) (error, *domain.SubSettings) {
	if err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSubSettings, communityId.String(), time.Now())
		return err
	}); err != nil {
		return err, nil
	}
	return db.ReadSubSettings(communityId)
}

func (db *DB) UpdateSubSettings(ss *domain.SubSettings) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateSubSettings,
			ss.FederationEnabled,
			ss.AutoAnnounce,
			ss.AcceptRemoteContent,
			ss.CommunityId.String(),
		)
		return err
	})
}

// ReadPendingFederationPosts returns posts flagged to federate but
// not yet federated
func (db *DB) ReadPendingFederationPosts(limit int) (error, *[]domain.Post) {
	rows, err := db.db.Query(sqlSelectPendingFederation, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		err, p := scanPost(rows)
		if err != nil {
			return err, &posts
		}
		posts = append(posts, *p)
	}
	if err = rows.Err(); err != nil {
		return err, &posts
	}
	return nil, &posts
}
