package activitypub

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "local.test"
	conf.Conf.WithFederation = true
	conf.Conf.Secret = "test-secret"
	conf.Conf.DeliveryWorkers = 2
	return conf
}

func createUser(t *testing.T, database *db.DB, username string) *domain.User {
	t.Helper()
	user := &domain.User{Id: uuid.New(), Username: username, CreatedAt: time.Now()}
	if err := database.CreateUser(user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func enableFederation(t *testing.T, database *db.DB, userId uuid.UUID, defaultFederate bool) {
	t.Helper()
	err, us := database.FindOrCreateUserSettings(userId)
	if err != nil {
		t.Fatalf("FindOrCreateUserSettings failed: %v", err)
	}
	us.FederationEnabled = true
	us.DefaultFederatePosts = defaultFederate
	if err := database.UpdateUserSettings(us); err != nil {
		t.Fatalf("UpdateUserSettings failed: %v", err)
	}
}

func createPost(t *testing.T, database *db.DB, author *domain.User, status domain.PostStatus) *domain.Post {
	t.Helper()
	post := &domain.Post{
		Id:        uuid.New(),
		AuthorId:  author.Id,
		Title:     "hello",
		Content:   "world",
		Status:    status,
		CreatedAt: time.Now(),
	}
	if err := database.CreatePost(post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	return post
}

func TestCanFederateRequiresPublished(t *testing.T) {
	database := setupTestDB(t)
	policy := NewPolicy(database)

	author := createUser(t, database, "alice")
	enableFederation(t, database, author.Id, true)

	for _, status := range []domain.PostStatus{domain.PostDraft, domain.PostPending, domain.PostHidden} {
		post := createPost(t, database, author, status)
		if policy.CanFederate(post) {
			t.Errorf("Post with status %s must not federate", status)
		}
	}

	post := createPost(t, database, author, domain.PostPublished)
	if !policy.CanFederate(post) {
		t.Error("Published post with all gates open should federate")
	}
}

func TestCanFederatePostOptOutWins(t *testing.T) {
	database := setupTestDB(t)
	policy := NewPolicy(database)

	author := createUser(t, database, "alice")
	enableFederation(t, database, author.Id, true)

	post := createPost(t, database, author, domain.PostPublished)
	if err := database.UpsertPostSettings(post.Id, false); err != nil {
		t.Fatalf("UpsertPostSettings failed: %v", err)
	}

	if policy.CanFederate(post) {
		t.Error("Explicit post opt-out must override the author default")
	}
}

func TestCanFederateAuthorDefaultApplies(t *testing.T) {
	database := setupTestDB(t)
	policy := NewPolicy(database)

	author := createUser(t, database, "alice")
	enableFederation(t, database, author.Id, false)

	// No post row, author default is off
	post := createPost(t, database, author, domain.PostPublished)
	if policy.CanFederate(post) {
		t.Error("Author default off must stop a post without explicit settings")
	}

	// Explicit opt-in beats the default
	if err := database.UpsertPostSettings(post.Id, true); err != nil {
		t.Fatalf("UpsertPostSettings failed: %v", err)
	}
	if !policy.CanFederate(post) {
		t.Error("Explicit post opt-in must override the author default")
	}
}

func TestCanFederateRequiresAuthorFederation(t *testing.T) {
	database := setupTestDB(t)
	policy := NewPolicy(database)

	// User settings default to federation off
	author := createUser(t, database, "alice")
	post := createPost(t, database, author, domain.PostPublished)
	if err := database.UpsertPostSettings(post.Id, true); err != nil {
		t.Fatalf("UpsertPostSettings failed: %v", err)
	}

	if policy.CanFederate(post) {
		t.Error("Post must not federate while the author has federation disabled")
	}
}

func TestCanFederateCommunityGate(t *testing.T) {
	database := setupTestDB(t)
	policy := NewPolicy(database)

	author := createUser(t, database, "alice")
	enableFederation(t, database, author.Id, true)

	community := &domain.Community{Id: uuid.New(), Name: "golang", Title: "Go", CreatedAt: time.Now()}
	if err := database.CreateCommunity(community); err != nil {
		t.Fatalf("CreateCommunity failed: %v", err)
	}

	post := createPost(t, database, author, domain.PostPublished)
	post.CommunityId = uuid.NullUUID{UUID: community.Id, Valid: true}

	// No settings row: the community tier is neutral
	if !policy.CanFederate(post) {
		t.Error("Community without settings must be neutral")
	}

	// Explicit settings with federation off close the gate
	err, ss := database.FindOrCreateSubSettings(community.Id)
	if err != nil {
		t.Fatalf("FindOrCreateSubSettings failed: %v", err)
	}
	ss.FederationEnabled = false
	if err := database.UpdateSubSettings(ss); err != nil {
		t.Fatalf("UpdateSubSettings failed: %v", err)
	}
	if policy.CanFederate(post) {
		t.Error("Community with federation disabled must block the post")
	}

	ss.FederationEnabled = true
	if err := database.UpdateSubSettings(ss); err != nil {
		t.Fatalf("UpdateSubSettings failed: %v", err)
	}
	if !policy.CanFederate(post) {
		t.Error("Community with federation enabled should allow the post")
	}
}

func TestPendingFederationRefilters(t *testing.T) {
	database := setupTestDB(t)
	policy := NewPolicy(database)

	author := createUser(t, database, "alice")
	enableFederation(t, database, author.Id, true)

	eligible := createPost(t, database, author, domain.PostPublished)
	if err := database.UpsertPostSettings(eligible.Id, true); err != nil {
		t.Fatalf("UpsertPostSettings failed: %v", err)
	}

	// Flagged but hidden since: the flag alone must not be trusted
	hidden := createPost(t, database, author, domain.PostHidden)
	if err := database.UpsertPostSettings(hidden.Id, true); err != nil {
		t.Fatalf("UpsertPostSettings failed: %v", err)
	}

	posts, err := policy.PendingFederation(10)
	if err != nil {
		t.Fatalf("PendingFederation failed: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("Expected 1 eligible post, got %d", len(posts))
	}
	if posts[0].Id != eligible.Id {
		t.Error("Wrong post selected for federation")
	}
}
