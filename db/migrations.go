package db

import (
	"database/sql"
	"log"
)

const (
	// Local platform tables, the minimal surface the federation
	// engine reads from
	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommunitiesTable = `CREATE TABLE IF NOT EXISTS communities (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		title TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		author_id TEXT NOT NULL,
		community_id TEXT,
		title TEXT,
		content TEXT,
		status TEXT DEFAULT 'draft',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
		CREATE INDEX IF NOT EXISTS idx_posts_community_id ON posts(community_id);
		CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status);
	`

	// Actor registry: one active actor per (kind, owner); the
	// instance actor has no owner
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		owner_id TEXT,
		username TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		inbox_uri TEXT NOT NULL,
		outbox_uri TEXT NOT NULL,
		followers_uri TEXT NOT NULL,
		summary TEXT,
		icon_url TEXT,
		active INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(kind, owner_id)
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_username ON actors(username);
		CREATE INDEX IF NOT EXISTS idx_actors_actor_uri ON actors(actor_uri);
	`

	// Actor keys: the UNIQUE(actor_id) constraint is what makes
	// concurrent first-use key generation safe
	sqlCreateActorKeysTable = `CREATE TABLE IF NOT EXISTS actor_keys (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT UNIQUE NOT NULL,
		key_id TEXT NOT NULL,
		public_key_pem TEXT NOT NULL,
		private_key_enc TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Followers: remote subscriptions, unique per (actor, remote actor)
	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		remote_actor_uri TEXT NOT NULL,
		remote_inbox_uri TEXT NOT NULL,
		remote_shared_inbox TEXT,
		remote_domain TEXT NOT NULL,
		remote_username TEXT,
		remote_display_name TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, remote_actor_uri)
	)`

	sqlCreateFollowersIndices = `
		CREATE INDEX IF NOT EXISTS idx_followers_actor_id ON followers(actor_id);
		CREATE INDEX IF NOT EXISTS idx_followers_remote_domain ON followers(remote_domain);
	`

	// Blocked instances: one row per domain
	sqlCreateBlockedInstancesTable = `CREATE TABLE IF NOT EXISTS blocked_instances (
		id TEXT NOT NULL PRIMARY KEY,
		domain TEXT UNIQUE NOT NULL,
		block_type TEXT NOT NULL DEFAULT 'full',
		reason TEXT,
		expires_at TIMESTAMP,
		active INTEGER DEFAULT 1,
		created_by TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateBlockedInstancesIndices = `
		CREATE INDEX IF NOT EXISTS idx_blocked_instances_domain ON blocked_instances(domain);
		CREATE INDEX IF NOT EXISTS idx_blocked_instances_active ON blocked_instances(active);
	`

	// Activities log table (local and remote, for deduplication)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT,
		raw_json TEXT NOT NULL,
		processed INTEGER DEFAULT 0,
		local INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_uri ON activities(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	// Deliveries: one row per (activity, target inbox), kept as an
	// audit trail and mutated only by the delivery engine
	sqlCreateDeliveriesTable = `CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT NOT NULL PRIMARY KEY,
		activity_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		delivered_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status);
		CREATE INDEX IF NOT EXISTS idx_deliveries_activity_id ON deliveries(activity_id);
	`

	// Delivery log: immutable telemetry, one row per attempt
	sqlCreateDeliveryLogTable = `CREATE TABLE IF NOT EXISTS delivery_log (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		instance_domain TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		status TEXT NOT NULL,
		http_status INTEGER DEFAULT 0,
		error TEXT,
		attempt INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryLogIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_log_created_at ON delivery_log(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_delivery_log_instance ON delivery_log(instance_domain);
		CREATE INDEX IF NOT EXISTS idx_delivery_log_status ON delivery_log(status);
	`

	// Remote actor cache
	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		inbox_uri TEXT NOT NULL,
		shared_inbox TEXT,
		outbox_uri TEXT,
		public_key_pem TEXT NOT NULL,
		avatar_url TEXT,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateRemoteAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_actor_uri ON remote_accounts(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
	`

	// Federation settings, three independent tiers
	sqlCreatePostSettingsTable = `CREATE TABLE IF NOT EXISTS post_settings (
		post_id TEXT NOT NULL PRIMARY KEY,
		should_federate INTEGER DEFAULT 0,
		federated INTEGER DEFAULT 0,
		federated_at TIMESTAMP,
		note_uri TEXT,
		activity_uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateUserSettingsTable = `CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT NOT NULL PRIMARY KEY,
		federation_enabled INTEGER DEFAULT 0,
		default_federate_posts INTEGER DEFAULT 0,
		indexable INTEGER DEFAULT 1,
		show_follower_count INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateSubSettingsTable = `CREATE TABLE IF NOT EXISTS sub_settings (
		community_id TEXT NOT NULL PRIMARY KEY,
		federation_enabled INTEGER DEFAULT 0,
		auto_announce INTEGER DEFAULT 0,
		accept_remote_content INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"users", sqlCreateUsersTable},
			{"communities", sqlCreateCommunitiesTable},
			{"posts", sqlCreatePostsTable},
			{"actors", sqlCreateActorsTable},
			{"actor_keys", sqlCreateActorKeysTable},
			{"followers", sqlCreateFollowersTable},
			{"blocked_instances", sqlCreateBlockedInstancesTable},
			{"activities", sqlCreateActivitiesTable},
			{"deliveries", sqlCreateDeliveriesTable},
			{"delivery_log", sqlCreateDeliveryLogTable},
			{"remote_accounts", sqlCreateRemoteAccountsTable},
			{"post_settings", sqlCreatePostSettingsTable},
			{"user_settings", sqlCreateUserSettingsTable},
			{"sub_settings", sqlCreateSubSettingsTable},
		}

		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreatePostsIndices,
			sqlCreateActorsIndices,
			sqlCreateFollowersIndices,
			sqlCreateBlockedInstancesIndices,
			sqlCreateActivitiesIndices,
			sqlCreateDeliveriesIndices,
			sqlCreateDeliveryLogIndices,
			sqlCreateRemoteAccountsIndices,
		}

		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
