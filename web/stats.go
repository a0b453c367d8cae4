package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lodeweb/lodestone/activitypub"
)

// Operational endpoints: delivery telemetry aggregates and the
// instance overview. Read-only, backed directly by the telemetry log.

func HandleDeliveryStats(c *gin.Context, fed *activitypub.Federation) {
	windowHours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))

	err, stats := fed.DB.ReadDeliveryStats(windowHours)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read delivery stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":        stats.Total,
		"delivered":    stats.Delivered,
		"failed":       stats.Failed,
		"success_rate": stats.SuccessRate,
		"window_hours": windowHours,
	})
}

func HandleFailuresByInstance(c *gin.Context, fed *activitypub.Federation) {
	windowHours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	err, failures := fed.DB.ReadFailuresByInstance(windowHours, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read instance failures"})
		return
	}

	items := make([]gin.H, 0, len(*failures))
	for _, f := range *failures {
		items = append(items, gin.H{
			"instance":     f.InstanceDomain,
			"total":        f.Total,
			"failed":       f.Failed,
			"failure_rate": f.FailureRate,
			"blocked":      f.Blocked,
			"silenced":     f.Silenced,
		})
	}
	c.JSON(http.StatusOK, gin.H{"instances": items, "window_hours": windowHours})
}

func HandleRecentFailures(c *gin.Context, fed *activitypub.Federation) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	err, logs := fed.DB.ReadRecentFailures(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read recent failures"})
		return
	}

	items := make([]gin.H, 0, len(*logs))
	for _, l := range *logs {
		items = append(items, gin.H{
			"inbox":       l.InboxURI,
			"instance":    l.InstanceDomain,
			"activity":    l.ActivityType,
			"http_status": l.HTTPStatus,
			"error":       l.Error,
			"attempt":     l.Attempt,
			"at":          l.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"failures": items})
}

func HandleFederationOverview(c *gin.Context, fed *activitypub.Federation) {
	err, overview := fed.DB.ReadFederationOverview()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read overview"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":           overview.Users,
		"posts":           overview.Posts,
		"federated_posts": overview.FederatedPosts,
		"actors":          overview.Actors,
		"followers":       overview.Followers,
		"active_blocks":   overview.ActiveBlocks,
	})
}
