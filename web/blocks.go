package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lodeweb/lodestone/activitypub"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

// Admin surface for the instance blocklist

type blockRequest struct {
	Domain    string `json:"domain" binding:"required"`
	BlockType string `json:"block_type"`
	Reason    string `json:"reason"`
	CreatedBy string `json:"created_by"`
	ExpiresIn string `json:"expires_in"` // Go duration, empty means permanent
}

func HandleListBlocks(c *gin.Context, fed *activitypub.Federation) {
	blocks, err := fed.Blocklist.ListBlocks()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list blocks"})
		return
	}

	items := make([]gin.H, 0, len(blocks))
	now := time.Now()
	for _, b := range blocks {
		items = append(items, gin.H{
			"domain":     b.Domain,
			"block_type": string(b.BlockType),
			"reason":     b.Reason,
			"active":     b.Effective(now),
			"expires_at": b.ExpiresAt,
			"created_by": b.CreatedBy,
			"created_at": b.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"blocks": items})
}

func HandleCreateBlock(c *gin.Context, fed *activitypub.Federation) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}

	blockType := domain.BlockType(req.BlockType)
	if blockType == "" {
		blockType = domain.BlockTypeFull
	}
	if blockType != domain.BlockTypeFull && blockType != domain.BlockTypeSilence {
		c.JSON(http.StatusBadRequest, gin.H{"error": "block_type must be full or silence"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_in must be a positive duration"})
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	blockDomain := util.NormalizeDomain(req.Domain)
	if err := fed.Blocklist.BlockDomain(blockDomain, req.Reason, blockType, req.CreatedBy, expiresAt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store block"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"domain": blockDomain, "block_type": string(blockType)})
}

// HandleDeleteBlock lifts a block. The default deactivates the row so
// the audit trail survives; `purge=true` deletes it outright.
func HandleDeleteBlock(c *gin.Context, fed *activitypub.Federation) {
	blockDomain := util.NormalizeDomain(c.Param("domain"))
	if blockDomain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}

	var err error
	if c.Query("purge") == "true" {
		err = fed.Blocklist.RemoveBlock(blockDomain)
	} else {
		err = fed.Blocklist.UnblockDomain(blockDomain)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove block"})
		return
	}
	c.Status(http.StatusNoContent)
}

func HandleBlockStatus(c *gin.Context, fed *activitypub.Federation) {
	blockDomain := util.NormalizeDomain(c.Param("domain"))
	status := fed.Blocklist.Status(blockDomain)
	c.JSON(http.StatusOK, gin.H{
		"domain":   blockDomain,
		"blocked":  status.Blocked,
		"silenced": status.Silenced,
	})
}
