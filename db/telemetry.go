package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
)

// Delivery telemetry queries. One immutable row per attempt, appended
// by the delivery engine and pruned only by Cleanup.
const (
	sqlInsertDeliveryLog = `INSERT INTO delivery_log(id, actor_id, inbox_uri, instance_domain, activity_type, status, http_status, error, attempt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectDeliveryStats = `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM delivery_log WHERE created_at >= ?`
	sqlSelectDeliveryStatsAll = `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM delivery_log`

	sqlSelectFailuresByInstance = `SELECT dl.instance_domain,
		COUNT(*) AS total,
		SUM(CASE WHEN dl.status = 'failed' THEN 1 ELSE 0 END) AS failed
		FROM delivery_log dl
		WHERE dl.created_at >= ?
		GROUP BY dl.instance_domain
		HAVING failed > 0
		ORDER BY failed DESC
		LIMIT ?`

	sqlSelectRecentFailures = `SELECT id, actor_id, inbox_uri, instance_domain, activity_type, status, http_status, error, attempt, created_at
		FROM delivery_log WHERE status = 'failed' ORDER BY created_at DESC LIMIT ?`

	sqlDeleteOldDeliveryLogs = `DELETE FROM delivery_log WHERE created_at < ?`
)

func (db *DB) AppendDeliveryLog(l *domain.DeliveryLog) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryLog,
			l.Id.String(),
			l.ActorId.String(),
			l.InboxURI,
			l.InstanceDomain,
			l.ActivityType,
			string(l.Status),
			l.HTTPStatus,
			l.Error,
			l.Attempt,
			l.CreatedAt,
		)
		return err
	})
}

// ReadDeliveryStats aggregates totals over the given window;
// windowHours <= 0 means all time
func (db *DB) ReadDeliveryStats(windowHours int) (error, *domain.DeliveryStats) {
	var stats domain.DeliveryStats
	var row *sql.Row
	if windowHours > 0 {
		since := time.Now().Add(-time.Duration(windowHours) * time.Hour)
		row = db.db.QueryRow(sqlSelectDeliveryStats, since)
	} else {
		row = db.db.QueryRow(sqlSelectDeliveryStatsAll)
	}
	if err := row.Scan(&stats.Total, &stats.Delivered, &stats.Failed); err != nil {
		return err, nil
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Delivered) / float64(stats.Total)
	}
	return nil, &stats
}

// ReadFailuresByInstance groups failed attempts by remote instance
// and joins the current block status, surfacing instances to consider
// blocking
func (db *DB) ReadFailuresByInstance(windowHours int, limit int) (error, *[]domain.InstanceFailures) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour)

	rows, err := db.db.Query(sqlSelectFailuresByInstance, since, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var failures []domain.InstanceFailures
	for rows.Next() {
		var f domain.InstanceFailures
		if err := rows.Scan(&f.InstanceDomain, &f.Total, &f.Failed); err != nil {
			return err, &failures
		}
		if f.Total > 0 {
			f.FailureRate = float64(f.Failed) / float64(f.Total)
		}
		failures = append(failures, f)
	}
	if err = rows.Err(); err != nil {
		return err, &failures
	}

	// Join current block status per instance
	now := time.Now()
	for i := range failures {
		if err, blocked := db.IsDomainFullBlocked(failures[i].InstanceDomain, now); err == nil {
			failures[i].Blocked = blocked
		}
		if err, silenced := db.IsDomainSilenced(failures[i].InstanceDomain, now); err == nil {
			failures[i].Silenced = silenced
		}
	}

	return nil, &failures
}

func (db *DB) ReadRecentFailures(limit int) (error, *[]domain.DeliveryLog) {
	rows, err := db.db.Query(sqlSelectRecentFailures, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var logs []domain.DeliveryLog
	for rows.Next() {
		var l domain.DeliveryLog
		var idStr, actorStr, status string
		if err := rows.Scan(&idStr, &actorStr, &l.InboxURI, &l.InstanceDomain, &l.ActivityType, &status, &l.HTTPStatus, &l.Error, &l.Attempt, &l.CreatedAt); err != nil {
			return err, &logs
		}
		l.Id, _ = uuid.Parse(idStr)
		l.ActorId, _ = uuid.Parse(actorStr)
		l.Status = domain.DeliveryStatus(status)
		logs = append(logs, l)
	}
	if err = rows.Err(); err != nil {
		return err, &logs
	}
	return nil, &logs
}

// CleanupDeliveryLog deletes telemetry rows older than the retention
// window, returning how many were removed
func (db *DB) CleanupDeliveryLog(daysToKeep int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	var affected int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteOldDeliveryLogs, cutoff)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}
