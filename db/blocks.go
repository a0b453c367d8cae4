package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
)

// Blocked instance queries
const (
	sqlUpsertBlockedInstance = `INSERT INTO blocked_instances(id, domain, block_type, reason, expires_at, active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			block_type = excluded.block_type,
			reason = excluded.reason,
			expires_at = excluded.expires_at,
			active = 1,
			updated_at = excluded.updated_at`
	sqlSelectBlockColumns        = `id, domain, block_type, reason, expires_at, active, created_by, created_at, updated_at`
	sqlSelectBlockByDomain       = `SELECT ` + sqlSelectBlockColumns + ` FROM blocked_instances WHERE domain = ?`
	sqlSelectAllBlocks           = `SELECT ` + sqlSelectBlockColumns + ` FROM blocked_instances ORDER BY domain ASC`
	sqlSelectActiveFullBlocks    = `SELECT domain FROM blocked_instances WHERE block_type = 'full' AND active = 1 AND (expires_at IS NULL OR expires_at > ?)`
	sqlDeactivateBlockByDomain   = `UPDATE blocked_instances SET active = 0, updated_at = ? WHERE domain = ?`
	sqlDeleteBlockByDomain       = `DELETE FROM blocked_instances WHERE domain = ?`
	sqlDeactivateExpiredBlocks   = `UPDATE blocked_instances SET active = 0, updated_at = ? WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?`
	sqlCountActiveBlocks         = `SELECT COUNT(*) FROM blocked_instances WHERE active = 1 AND (expires_at IS NULL OR expires_at > ?)`
	sqlSelectSilencedByDomain    = `SELECT COUNT(*) FROM blocked_instances WHERE domain = ? AND block_type = 'silence' AND active = 1 AND (expires_at IS NULL OR expires_at > ?)`
	sqlSelectFullBlockedByDomain = `SELECT COUNT(*) FROM blocked_instances WHERE domain = ? AND block_type = 'full' AND active = 1 AND (expires_at IS NULL OR expires_at > ?)`
)

func (db *DB) UpsertBlockedInstance(b *domain.BlockedInstance) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var expires interface{}
		if b.ExpiresAt != nil {
			expires = *b.ExpiresAt
		}
		_, err := tx.Exec(sqlUpsertBlockedInstance,
			b.Id.String(),
			b.Domain,
			string(b.BlockType),
			b.Reason,
			expires,
			b.CreatedBy,
			b.CreatedAt,
			b.UpdatedAt,
		)
		return err
	})
}

func scanBlockedInstance(row interface{ Scan(...interface{}) error }) (error, *domain.BlockedInstance) {
	var b domain.BlockedInstance
	var idStr, blockType string
	var expires sql.NullTime
	err := row.Scan(
		&idStr,
		&b.Domain,
		&blockType,
		&b.Reason,
		&expires,
		&b.Active,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return err, nil
	}
	b.Id, _ = uuid.Parse(idStr)
	b.BlockType = domain.BlockType(blockType)
	if expires.Valid {
		t := expires.Time
		b.ExpiresAt = &t
	}
	return nil, &b
}

func (db *DB) ReadBlockedInstanceByDomain(blockDomain string) (error, *domain.BlockedInstance) {
	return scanBlockedInstance(db.db.QueryRow(sqlSelectBlockByDomain, blockDomain))
}

func (db *DB) ReadAllBlockedInstances() (error, *[]domain.BlockedInstance) {
	rows, err := db.db.Query(sqlSelectAllBlocks)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var blocks []domain.BlockedInstance
	for rows.Next() {
		err, b := scanBlockedInstance(rows)
		if err != nil {
			return err, &blocks
		}
		blocks = append(blocks, *b)
	}
	if err = rows.Err(); err != nil {
		return err, &blocks
	}
	return nil, &blocks
}

// ReadActiveFullBlockDomains returns the set of domains under an
// effective full block, the source of truth behind the blocklist cache
func (db *DB) ReadActiveFullBlockDomains(now time.Time) (error, []string) {
	rows, err := db.db.Query(sqlSelectActiveFullBlocks, now)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return err, domains
		}
		domains = append(domains, d)
	}
	if err = rows.Err(); err != nil {
		return err, domains
	}
	return nil, domains
}

// IsDomainFullBlocked checks a single domain against the table,
// bypassing any cache
func (db *DB) IsDomainFullBlocked(blockDomain string, now time.Time) (error, bool) {
	var count int
	err := db.db.QueryRow(sqlSelectFullBlockedByDomain, blockDomain, now).Scan(&count)
	return err, count > 0
}

// IsDomainSilenced checks a single domain for an effective silence;
// always uncached since it gates visibility, not delivery volume
func (db *DB) IsDomainSilenced(blockDomain string, now time.Time) (error, bool) {
	var count int
	err := db.db.QueryRow(sqlSelectSilencedByDomain, blockDomain, now).Scan(&count)
	return err, count > 0
}

func (db *DB) DeactivateBlockedInstance(blockDomain string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeactivateBlockByDomain, time.Now(), blockDomain)
		return err
	})
}

func (db *DB) DeleteBlockedInstance(blockDomain string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteBlockByDomain, blockDomain)
		return err
	})
}

// DeactivateExpiredBlocks clears the active flag on blocks whose
// expiry has passed, returning how many rows changed
func (db *DB) DeactivateExpiredBlocks(now time.Time) (int64, error) {
	var affected int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeactivateExpiredBlocks, now, now)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

func (db *DB) CountActiveBlocks(now time.Time) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountActiveBlocks, now).Scan(&count)
	return err, count
}
