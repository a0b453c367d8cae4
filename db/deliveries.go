package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lodeweb/lodestone/domain"
)

// Delivery queries. Rows are mutated only by the delivery engine and
// never deleted; the attempt counter increment and the conditional
// terminal-status write happen in one statement so no other writer
// can race on the same row.
const (
	sqlInsertDelivery = `INSERT INTO deliveries(id, activity_id, actor_id, inbox_uri, status, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, 'pending', 0, '', ?)`
	sqlSelectDeliveryColumns    = `id, activity_id, actor_id, inbox_uri, status, attempts, last_error, delivered_at, created_at`
	sqlSelectDeliveryById       = `SELECT ` + sqlSelectDeliveryColumns + ` FROM deliveries WHERE id = ?`
	sqlSelectPendingDeliveries  = `SELECT ` + sqlSelectDeliveryColumns + ` FROM deliveries WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`
	sqlSelectDeliveriesByActivity = `SELECT ` + sqlSelectDeliveryColumns + ` FROM deliveries WHERE activity_id = ?`
	sqlMarkDeliveryDelivered    = `UPDATE deliveries SET status = 'delivered', delivered_at = ?, last_error = '' WHERE id = ? AND status = 'pending'`
	sqlMarkDeliveryFailed       = `UPDATE deliveries SET attempts = attempts + 1, last_error = ?,
		status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END
		WHERE id = ? AND status = 'pending'`
	sqlAbandonDelivery = `UPDATE deliveries SET status = 'failed', last_error = ? WHERE id = ? AND status = 'pending'`
)

func (db *DB) CreateDelivery(d *domain.Delivery) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			d.Id.String(),
			d.ActivityId.String(),
			d.ActorId.String(),
			d.InboxURI,
			d.CreatedAt,
		)
		return err
	})
}

func scanDelivery(row interface{ Scan(...interface{}) error }) (error, *domain.Delivery) {
	var d domain.Delivery
	var idStr, activityStr, actorStr, status string
	var deliveredAt sql.NullTime
	err := row.Scan(
		&idStr,
		&activityStr,
		&actorStr,
		&d.InboxURI,
		&status,
		&d.Attempts,
		&d.LastError,
		&deliveredAt,
		&d.CreatedAt,
	)
	if err != nil {
		return err, nil
	}
	d.Id, _ = uuid.Parse(idStr)
	d.ActivityId, _ = uuid.Parse(activityStr)
	d.ActorId, _ = uuid.Parse(actorStr)
	d.Status = domain.DeliveryStatus(status)
	if deliveredAt.Valid {
		t := deliveredAt.Time
		d.DeliveredAt = &t
	}
	return nil, &d
}

func (db *DB) ReadDeliveryById(id uuid.UUID) (error, *domain.Delivery) {
	return scanDelivery(db.db.QueryRow(sqlSelectDeliveryById, id.String()))
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.Delivery) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.Delivery
	for rows.Next() {
		err, d := scanDelivery(rows)
		if err != nil {
			return err, &items
		}
		items = append(items, *d)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) ReadDeliveriesByActivityId(activityId uuid.UUID) (error, *[]domain.Delivery) {
	rows, err := db.db.Query(sqlSelectDeliveriesByActivity, activityId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.Delivery
	for rows.Next() {
		err, d := scanDelivery(rows)
		if err != nil {
			return err, &items
		}
		items = append(items, *d)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

// MarkDeliveryDelivered transitions a pending delivery to its
// terminal success state
func (db *DB) MarkDeliveryDelivered(id uuid.UUID, deliveredAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkDeliveryDelivered, deliveredAt, id.String())
		return err
	})
}

// MarkDeliveryFailed increments the attempt counter and escalates to
// terminal failed once the bound is reached. A call on an already
// terminal row is a no-op.
func (db *DB) MarkDeliveryFailed(id uuid.UUID, lastError string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkDeliveryFailed, lastError, domain.MaxDeliveryAttempts, id.String())
		return err
	})
}

// AbandonDelivery moves a pending delivery straight to its terminal
// state without touching the attempt counter. Used when the target
// can never be attempted again, not for attempt failures.
func (db *DB) AbandonDelivery(id uuid.UUID, reason string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAbandonDelivery, reason, id.String())
		return err
	})
}

// Activity queries
const (
	sqlInsertActivity      = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityById  = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE id = ?`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_uri = ?`
	sqlUpdateActivity      = `UPDATE activities SET processed = ?, object_uri = ? WHERE id = ?`
	sqlSelectLocalCreates  = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_type = 'Create' AND local = 1 ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) CreateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Processed,
			activity.Local,
			activity.CreatedAt,
		)
		return err
	})
}

func scanActivity(row interface{ Scan(...interface{}) error }) (error, *domain.Activity) {
	var activity domain.Activity
	var idStr string
	err := row.Scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&activity.ObjectURI,
		&activity.RawJSON,
		&activity.Processed,
		&activity.Local,
		&activity.CreatedAt,
	)
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	return nil, &activity
}

func (db *DB) ReadActivityById(id uuid.UUID) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityById, id.String()))
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri))
}

func (db *DB) UpdateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity,
			activity.Processed,
			activity.ObjectURI,
			activity.Id.String(),
		)
		return err
	})
}

// ReadLocalCreateActivities returns recent locally published Create
// activities, newest first
func (db *DB) ReadLocalCreateActivities(limit int) (error, *[]domain.Activity) {
	rows, err := db.db.Query(sqlSelectLocalCreates, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		err, a := scanActivity(rows)
		if err != nil {
			return err, &activities
		}
		activities = append(activities, *a)
	}
	if err = rows.Err(); err != nil {
		return err, &activities
	}
	return nil, &activities
}
