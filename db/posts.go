package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
)

// Local platform queries: the minimal user/community/post surface the
// federation engine needs
const (
	sqlInsertUser           = `INSERT INTO users(id, username, created_at) VALUES (?, ?, ?)`
	sqlSelectUserById       = `SELECT id, username, created_at FROM users WHERE id = ?`
	sqlSelectUserByUsername = `SELECT id, username, created_at FROM users WHERE username = ?`

	sqlInsertCommunity       = `INSERT INTO communities(id, name, title, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectCommunityById   = `SELECT id, name, title, created_at FROM communities WHERE id = ?`
	sqlSelectCommunityByName = `SELECT id, name, title, created_at FROM communities WHERE name = ?`

	sqlInsertPost     = `INSERT INTO posts(id, author_id, community_id, title, content, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPostById = `SELECT id, author_id, community_id, title, content, status, created_at FROM posts WHERE id = ?`
	sqlSelectPublishedPosts = `SELECT id, author_id, community_id, title, content, status, created_at
		FROM posts WHERE status = 'published' ORDER BY created_at DESC LIMIT ?`
	sqlSelectPublishedPostsByAuthor = `SELECT p.id, p.author_id, p.community_id, p.title, p.content, p.status, p.created_at
		FROM posts p JOIN users u ON u.id = p.author_id
		WHERE p.status = 'published' AND u.username = ? ORDER BY p.created_at DESC LIMIT ?`

	sqlCountUsers          = `SELECT COUNT(*) FROM users`
	sqlCountPosts          = `SELECT COUNT(*) FROM posts`
	sqlCountFederatedPosts = `SELECT COUNT(*) FROM post_settings WHERE federated = 1`
	sqlCountFollowers      = `SELECT COUNT(*) FROM followers`
	sqlCountActiveActors   = `SELECT COUNT(*) FROM actors WHERE active = 1`
)

func (db *DB) CreateUser(u *domain.User) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser, u.Id.String(), u.Username, u.CreatedAt)
		return err
	})
}

func scanUser(row interface{ Scan(...interface{}) error }) (error, *domain.User) {
	var u domain.User
	var idStr string
	err := row.Scan(&idStr, &u.Username, &u.CreatedAt)
	if err != nil {
		return err, nil
	}
	u.Id, _ = uuid.Parse(idStr)
	return nil, &u
}

func (db *DB) ReadUserById(id uuid.UUID) (error, *domain.User) {
	return scanUser(db.db.QueryRow(sqlSelectUserById, id.String()))
}

func (db *DB) ReadUserByUsername(username string) (error, *domain.User) {
	return scanUser(db.db.QueryRow(sqlSelectUserByUsername, username))
}

func (db *DB) CreateCommunity(c *domain.Community) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertCommunity, c.Id.String(), c.Name, c.Title, c.CreatedAt)
		return err
	})
}

func scanCommunity(row interface{ Scan(...interface{}) error }) (error, *domain.Community) {
	var c domain.Community
	var idStr string
	err := row.Scan(&idStr, &c.Name, &c.Title, &c.CreatedAt)
	if err != nil {
		return err, nil
	}
	c.Id, _ = uuid.Parse(idStr)
	return nil, &c
}

func (db *DB) ReadCommunityById(id uuid.UUID) (error, *domain.Community) {
	return scanCommunity(db.db.QueryRow(sqlSelectCommunityById, id.String()))
}

func (db *DB) ReadCommunityByName(name string) (error, *domain.Community) {
	return scanCommunity(db.db.QueryRow(sqlSelectCommunityByName, name))
}

func (db *DB) CreatePost(p *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var community interface{}
		if p.CommunityId.Valid {
			community = p.CommunityId.UUID.String()
		}
		_, err := tx.Exec(sqlInsertPost,
			p.Id.String(),
			p.AuthorId.String(),
			community,
			p.Title,
			p.Content,
			string(p.Status),
			p.CreatedAt,
		)
		return err
	})
}

func scanPost(row interface{ Scan(...interface{}) error }) (error, *domain.Post) {
	var p domain.Post
	var idStr, authorStr, status string
	var communityStr sql.NullString
	err := row.Scan(&idStr, &authorStr, &communityStr, &p.Title, &p.Content, &status, &p.CreatedAt)
	if err != nil {
		return err, nil
	}
	p.Id, _ = uuid.Parse(idStr)
	p.AuthorId, _ = uuid.Parse(authorStr)
	p.Status = domain.PostStatus(status)
	if communityStr.Valid {
		communityId, perr := uuid.Parse(communityStr.String)
		if perr == nil {
			p.CommunityId = uuid.NullUUID{UUID: communityId, Valid: true}
		}
	}
	return nil, &p
}

func (db *DB) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	return scanPost(db.db.QueryRow(sqlSelectPostById, id.String()))
}

func (db *DB) readPostRows(query string, args ...interface{}) (error, *[]domain.Post) {
	rows, err := db.db.Query(query, args...)
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

func (db *DB) ReadPublishedPosts(limit int) (error, *[]domain.Post) {
	return db.readPostRows(sqlSelectPublishedPosts, limit)
}

func (db *DB) ReadPublishedPostsByUsername(username string, limit int) (error, *[]domain.Post) {
	return db.readPostRows(sqlSelectPublishedPostsByAuthor, username, limit)
}

// FederationOverview aggregates the instance-level counters the
// operational dashboards read
type FederationOverview struct {
	Users          int
	Posts          int
	FederatedPosts int
	Actors         int
	Followers      int
	ActiveBlocks   int
}

func (db *DB) ReadFederationOverview() (error, *FederationOverview) {
	var o FederationOverview
	counts := []struct {
		query string
		dest  *int
	}{
		{sqlCountUsers, &o.Users},
		{sqlCountPosts, &o.Posts},
		{sqlCountFederatedPosts, &o.FederatedPosts},
		{sqlCountActiveActors, &o.Actors},
		{sqlCountFollowers, &o.Followers},
	}
	for _, c := range counts {
		if err := db.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return err, nil
		}
	}
	err, active := db.CountActiveBlocks(time.Now())
	if err != nil {
		return err, nil
	}
	o.ActiveBlocks = active
	return nil, &o
}
