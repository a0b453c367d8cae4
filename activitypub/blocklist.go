package activitypub

import (
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

// blockCacheTTL bounds how long a stale answer can outlive a block
// mutation that the explicit invalidation missed
const blockCacheTTL = 5 * time.Minute

// Blocklist is the trust layer consulted before any delivery or
// inbound acceptance. Full-block lookups are served from a short-TTL
// cache (they gate every fan-out target); silence lookups always hit
// the table since they gate visibility, not delivery volume. The
// cache is a derived view only: every mutation invalidates it.
type Blocklist struct {
	db    *db.DB
	cache *expirable.LRU[string, bool]
}

func NewBlocklist(database *db.DB) *Blocklist {
	return NewBlocklistWithTTL(database, blockCacheTTL)
}

func NewBlocklistWithTTL(database *db.DB, ttl time.Duration) *Blocklist {
	bl := &Blocklist{
		db:    database,
		cache: expirable.NewLRU[string, bool](4096, nil, ttl),
	}
	bl.preload()
	return bl
}

// preload seeds the cache with every domain under an effective full
// block, so the first fan-out after startup skips the per-domain
// lookups. Misses still resolve lazily.
func (bl *Blocklist) preload() {
	err, domains := bl.db.ReadActiveFullBlockDomains(time.Now())
	if err != nil {
		log.Printf("Blocklist: Failed to preload block cache: %v", err)
		return
	}
	for _, d := range domains {
		bl.cache.Add(d, true)
	}
}

func (bl *Blocklist) invalidate() {
	bl.cache.Purge()
}

// IsBlocked reports whether the domain is under an active, unexpired
// full block. Errors fail closed: an unreadable blocklist never lets
// a target through.
func (bl *Blocklist) IsBlocked(blockDomain string) bool {
	key := util.NormalizeDomain(blockDomain)
	if key == "" {
		return false
	}

	if blocked, ok := bl.cache.Get(key); ok {
		return blocked
	}

	err, blocked := bl.db.IsDomainFullBlocked(key, time.Now())
	if err != nil {
		log.Printf("Blocklist: Failed to check %s, failing closed: %v", key, err)
		return true
	}

	bl.cache.Add(key, blocked)
	return blocked
}

// IsSilenced reports whether the domain is under an active, unexpired
// silence. Always checked uncached against the table.
func (bl *Blocklist) IsSilenced(blockDomain string) bool {
	key := util.NormalizeDomain(blockDomain)
	if key == "" {
		return false
	}
	err, silenced := bl.db.IsDomainSilenced(key, time.Now())
	if err != nil {
		log.Printf("Blocklist: Failed to check silence for %s: %v", key, err)
		return false
	}
	return silenced
}

// DomainStatus is the combined view used by inbound processing and
// the admin surface
type DomainStatus struct {
	Domain   string `json:"domain"`
	Blocked  bool   `json:"blocked"`
	Silenced bool   `json:"silenced"`
	Reason   string `json:"reason,omitempty"`
}

// Status returns the combined block/silence view for a domain
func (bl *Blocklist) Status(blockDomain string) *DomainStatus {
	key := util.NormalizeDomain(blockDomain)
	status := &DomainStatus{Domain: key}

	err, block := bl.db.ReadBlockedInstanceByDomain(key)
	if err == sql.ErrNoRows || block == nil {
		return status
	}
	if err != nil {
		log.Printf("Blocklist: Failed to read status for %s: %v", key, err)
		return status
	}

	if block.Effective(time.Now()) {
		status.Reason = block.Reason
		switch block.BlockType {
		case domain.BlockTypeFull:
			status.Blocked = true
		case domain.BlockTypeSilence:
			status.Silenced = true
		}
	}
	return status
}

// BlockDomain upserts a block for the normalized domain and
// invalidates the cache
func (bl *Blocklist) BlockDomain(blockDomain, reason string, blockType domain.BlockType, createdBy string, expiresAt *time.Time) error {
	now := time.Now()
	block := &domain.BlockedInstance{
		Id:        uuid.New(),
		Domain:    util.NormalizeDomain(blockDomain),
		BlockType: blockType,
		Reason:    reason,
		ExpiresAt: expiresAt,
		Active:    true,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := bl.db.UpsertBlockedInstance(block); err != nil {
		return err
	}

	// A full block also severs existing subscriptions from the domain
	if blockType == domain.BlockTypeFull {
		if err := bl.db.DeleteFollowersByDomain(block.Domain); err != nil {
			log.Printf("Blocklist: Failed to remove followers from %s: %v", block.Domain, err)
		}
	}

	bl.invalidate()
	log.Printf("Blocklist: %s block for %s (%s)", blockType, block.Domain, reason)
	return nil
}

// UnblockDomain deactivates the block and invalidates the cache
func (bl *Blocklist) UnblockDomain(blockDomain string) error {
	if err := bl.db.DeactivateBlockedInstance(util.NormalizeDomain(blockDomain)); err != nil {
		return err
	}
	bl.invalidate()
	return nil
}

// RemoveBlock deletes the row entirely and invalidates the cache
func (bl *Blocklist) RemoveBlock(blockDomain string) error {
	if err := bl.db.DeleteBlockedInstance(util.NormalizeDomain(blockDomain)); err != nil {
		return err
	}
	bl.invalidate()
	return nil
}

// ListBlocks returns every block row for the admin surface
func (bl *Blocklist) ListBlocks() ([]domain.BlockedInstance, error) {
	err, blocks := bl.db.ReadAllBlockedInstances()
	if err != nil {
		return nil, err
	}
	return *blocks, nil
}

// SweepExpired deactivates blocks whose expiry has passed and
// invalidates the cache. Driven by a periodic ticker.
func (bl *Blocklist) SweepExpired() (int64, error) {
	affected, err := bl.db.DeactivateExpiredBlocks(time.Now())
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		bl.invalidate()
		log.Printf("Blocklist: Swept %d expired blocks", affected)
	}
	return affected, nil
}
