package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lodeweb/lodestone/activitypub"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

// NewRouter builds the HTTP surface: webfinger and actor documents,
// the inbox endpoints, RSS, telemetry reads, and the admin blocklist
func NewRouter(conf *util.AppConfig, fed *activitypub.Federation) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		username := c.Query("username")
		rss, err := GetRSS(fed, username)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	if conf.Conf.WithFederation {
		// Stricter rate limit for federation endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for inbound activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
				return
			}
			resource = strings.TrimPrefix(resource, "acct:")
			resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
			err, resp := GetWebfinger(resource, fed)
			if err != nil {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
			} else {
				c.Render(200, render.String{Format: resp})
			}
		})

		g.GET("/actor", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := GetInstanceActor(fed)
			if err != nil {
				c.JSON(404, gin.H{"error": "actor not found"})
			} else {
				c.Render(200, render.String{Format: doc})
			}
		})

		g.GET("/users/:name", actorDocHandler(fed, domain.ActorKindUser))
		g.GET("/c/:name", actorDocHandler(fed, domain.ActorKindGroup))
		g.GET("/users/:name/followers", followersHandler(fed, domain.ActorKindUser))
		g.GET("/c/:name/followers", followersHandler(fed, domain.ActorKindGroup))

		// Serve federated posts as ActivityPub objects
		g.GET("/posts/:id", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")

			postId, err := uuid.Parse(c.Param("id"))
			if err != nil {
				c.JSON(404, gin.H{"error": "Invalid post ID"})
				return
			}
			err, note := GetNoteObject(postId, fed)
			if err != nil {
				c.JSON(404, gin.H{"error": "Post not found"})
			} else {
				c.Render(200, render.String{Format: note})
			}
		})

		g.POST("/users/:name/inbox", RateLimitMiddleware(apLimiter), maxBodySize, inboxHandler(fed, domain.ActorKindUser))
		g.POST("/c/:name/inbox", RateLimitMiddleware(apLimiter), maxBodySize, inboxHandler(fed, domain.ActorKindGroup))

		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			sharedInbox(c, fed)
		})

		// Telemetry reads
		g.GET("/api/federation/stats", func(c *gin.Context) { HandleDeliveryStats(c, fed) })
		g.GET("/api/federation/failures", func(c *gin.Context) { HandleRecentFailures(c, fed) })
		g.GET("/api/federation/instances", func(c *gin.Context) { HandleFailuresByInstance(c, fed) })
		g.GET("/api/federation/overview", func(c *gin.Context) { HandleFederationOverview(c, fed) })

		// Blocklist administration
		g.GET("/api/admin/blocks", func(c *gin.Context) { HandleListBlocks(c, fed) })
		g.POST("/api/admin/blocks", func(c *gin.Context) { HandleCreateBlock(c, fed) })
		g.DELETE("/api/admin/blocks/:domain", func(c *gin.Context) { HandleDeleteBlock(c, fed) })
		g.GET("/api/admin/blocks/:domain", func(c *gin.Context) { HandleBlockStatus(c, fed) })
	}

	return g
}

// Router builds and runs the server
func Router(conf *util.AppConfig, fed *activitypub.Federation) error {
	log.Printf("Starting server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := NewRouter(conf, fed)
	return g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}

func actorDocHandler(fed *activitypub.Federation, kind domain.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, doc := GetActor(c.Param("name"), kind, fed)
		if err != nil {
			c.JSON(404, gin.H{"error": "actor not found"})
		} else {
			c.Render(200, render.String{Format: doc})
		}
	}
}

func followersHandler(fed *activitypub.Federation, kind domain.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, doc := GetFollowersCollection(c.Param("name"), kind, fed)
		if err != nil {
			c.JSON(404, gin.H{"error": "actor not found"})
		} else {
			c.Render(200, render.String{Format: doc})
		}
	}
}

func inboxHandler(fed *activitypub.Federation, kind domain.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		actor, err := fed.Registry.FindByUsername(name, kind)
		if err != nil || actor == nil {
			c.JSON(404, gin.H{"error": "actor not found"})
			return
		}

		body, err := c.GetRawData()
		if err != nil {
			log.Printf("Inbox: Failed to read body: %v", err)
			c.Status(400)
			return
		}

		status, herr := fed.HandleInbox(c.Request, body, actor)
		if herr != nil {
			log.Printf("Inbox: %s: %v", c.Request.URL.Path, herr)
		}
		c.Status(status)
	}
}

// sharedInbox routes an activity posted to the instance-wide inbox to
// the local actor it addresses
func sharedInbox(c *gin.Context, fed *activitypub.Federation) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Shared inbox: Failed to read body: %v", err)
		c.Status(400)
		return
	}

	var envelope struct {
		Type   string          `json:"type"`
		Object json.RawMessage `json:"object"`
		To     json.RawMessage `json:"to"`
		Cc     json.RawMessage `json:"cc"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Printf("Shared inbox: Failed to parse activity: %v", err)
		c.Status(400)
		return
	}

	recipient := resolveLocalRecipient(fed, envelope.Object, envelope.To, envelope.Cc)
	if recipient == nil {
		log.Printf("Shared inbox: No local recipient for %s activity", envelope.Type)
		c.Status(http.StatusAccepted)
		return
	}

	status, herr := fed.HandleInbox(c.Request, body, recipient)
	if herr != nil {
		log.Printf("Shared inbox: %v", herr)
	}
	c.Status(status)
}

// resolveLocalRecipient matches the candidate URIs in an activity's
// object and addressing fields against local actors, first match wins
func resolveLocalRecipient(fed *activitypub.Federation, fields ...json.RawMessage) *domain.Actor {
	for _, field := range fields {
		for _, uri := range candidateURIs(field) {
			// Followers collections address the owning actor
			uri = strings.TrimSuffix(uri, "/followers")
			if err, actor := fed.DB.ReadActorByURI(uri); err == nil && actor != nil {
				return actor
			}
		}
	}
	return nil
}

// candidateURIs flattens a JSON field that may be a string, an array
// of strings, or an embedded object with an id
func candidateURIs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var embedded struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(raw, &embedded); err == nil && embedded.Id != "" {
		return []string{embedded.Id}
	}
	return nil
}
