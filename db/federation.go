package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
)

const (
	// Follows
	sqlInsertFollow = `INSERT INTO follows(id, actor_id, target_actor_id, uri, accepted, created_at)
                        VALUES (?, ?, ?, ?, ?, ?)
                        ON CONFLICT(actor_id, target_actor_id) DO NOTHING`
	sqlSelectFollow       = `SELECT id, actor_id, target_actor_id, uri, accepted, created_at FROM follows`
	sqlSelectFollowByPair = sqlSelectFollow + ` WHERE actor_id = ? AND target_actor_id = ?`
	sqlSelectFollowByURI  = sqlSelectFollow + ` WHERE uri = ?`
	sqlSelectFollowers    = `SELECT actors.id, actors.uri, actors.username, actors.display_name, actors.summary,
                        actors.inbox_uri, actors.shared_inbox_uri, actors.outbox_uri, actors.followers_uri,
                        actors.public_key_pem, actors.private_key_pem, actors.instance_id, actors.local,
                        actors.tombstoned, actors.last_fetched_at, actors.created_at FROM actors
                        INNER JOIN follows ON follows.actor_id = actors.id
                        WHERE follows.target_actor_id = ? AND follows.accepted = 1 AND actors.tombstoned = 0`
	sqlAcceptFollowByURI = `UPDATE follows SET accepted = 1 WHERE uri = ?`
	sqlDeleteFollow      = `DELETE FROM follows WHERE id = ?`

	// Likes
	sqlInsertLike = `INSERT INTO likes(id, actor_id, article_id, uri, created_at) VALUES (?, ?, ?, ?, ?)
                        ON CONFLICT(actor_id, article_id) DO NOTHING`
	sqlSelectLikeByPair = `SELECT id, actor_id, article_id, uri, created_at FROM likes
                        WHERE actor_id = ? AND article_id = ?`
	sqlDeleteLike = `DELETE FROM likes WHERE id = ?`

	// Reshares
	sqlInsertReshare = `INSERT INTO reshares(id, actor_id, article_id, uri, created_at) VALUES (?, ?, ?, ?, ?)
                        ON CONFLICT(actor_id, article_id) DO NOTHING`
	sqlSelectReshareByPair = `SELECT id, actor_id, article_id, uri, created_at FROM reshares
                        WHERE actor_id = ? AND article_id = ?`
	sqlDeleteReshare = `DELETE FROM reshares WHERE id = ?`

	// Inbox ledger
	sqlInsertInboxRecord = `INSERT INTO inbox_records(id, activity_uri, activity_type, actor_uri, created_at)
                        VALUES (?, ?, ?, ?, ?)
                        ON CONFLICT(activity_uri) DO NOTHING`
	sqlCountInboxRecord = `SELECT COUNT(1) FROM inbox_records WHERE activity_uri = ?`

	// Notifications
	sqlInsertNotification = `INSERT INTO notifications(id, kind, actor_id, target_actor_id, object_uri, read, created_at)
                        VALUES (?, ?, ?, ?, ?, 0, ?)`
	sqlSelectNotifications = `SELECT id, kind, actor_id, target_actor_id, object_uri, read, created_at
                        FROM notifications WHERE target_actor_id = ? ORDER BY created_at DESC LIMIT ?`
	sqlMarkNotificationRead = `UPDATE notifications SET read = 1 WHERE id = ?`
)

func (db *DB) CreateFollow(f *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			f.Id.String(),
			f.ActorId.String(),
			f.TargetActorId.String(),
			f.URI,
			f.Accepted,
			f.CreatedAt,
		)
		return err
	})
}

func (db *DB) FollowByPair(actorId, targetActorId uuid.UUID) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByPair, actorId.String(), targetActorId.String()))
}

func (db *DB) FollowByURI(uri string) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
}

func (db *DB) scanFollow(row *sql.Row) (error, *domain.Follow) {
	var f domain.Follow
	var idStr, actorIdStr, targetIdStr string
	err := row.Scan(&idStr, &actorIdStr, &targetIdStr, &f.URI, &f.Accepted, &f.CreatedAt)
	if err != nil {
		return err, nil
	}
	f.Id, _ = uuid.Parse(idStr)
	f.ActorId, _ = uuid.Parse(actorIdStr)
	f.TargetActorId, _ = uuid.Parse(targetIdStr)
	return nil, &f
}

func (db *DB) FollowersOf(actorId uuid.UUID) (error, *[]domain.Actor) {
	rows, err := db.db.Query(sqlSelectFollowers, actorId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var actors []domain.Actor

	for rows.Next() {
		var a domain.Actor
		var idStr, instanceIdStr string
		if err := rows.Scan(
			&idStr,
			&a.URI,
			&a.Username,
			&a.DisplayName,
			&a.Summary,
			&a.InboxURI,
			&a.SharedInboxURI,
			&a.OutboxURI,
			&a.FollowersURI,
			&a.PublicKeyPem,
			&a.PrivateKeyPem,
			&instanceIdStr,
			&a.Local,
			&a.Tombstoned,
			&a.LastFetchedAt,
			&a.CreatedAt,
		); err != nil {
			return err, &actors
		}
		a.Id, _ = uuid.Parse(idStr)
		a.InstanceId, _ = uuid.Parse(instanceIdStr)
		actors = append(actors, a)
	}
	if err = rows.Err(); err != nil {
		return err, &actors
	}

	return nil, &actors
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowByURI, uri)
		return err
	})
}

func (db *DB) DeleteFollow(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollow, id.String())
		return err
	})
}

func (db *DB) CreateLike(l *domain.Like) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLike, l.Id.String(), l.ActorId.String(), l.ArticleId.String(), l.URI, l.CreatedAt)
		return err
	})
}

func (db *DB) LikeByPair(actorId, articleId uuid.UUID) (error, *domain.Like) {
	row := db.db.QueryRow(sqlSelectLikeByPair, actorId.String(), articleId.String())
	var l domain.Like
	var idStr, actorIdStr, articleIdStr string
	err := row.Scan(&idStr, &actorIdStr, &articleIdStr, &l.URI, &l.CreatedAt)
	if err != nil {
		return err, nil
	}
	l.Id, _ = uuid.Parse(idStr)
	l.ActorId, _ = uuid.Parse(actorIdStr)
	l.ArticleId, _ = uuid.Parse(articleIdStr)
	return nil, &l
}

func (db *DB) DeleteLike(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLike, id.String())
		return err
	})
}

func (db *DB) CreateReshare(r *domain.Reshare) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertReshare, r.Id.String(), r.ActorId.String(), r.ArticleId.String(), r.URI, r.CreatedAt)
		return err
	})
}

func (db *DB) ReshareByPair(actorId, articleId uuid.UUID) (error, *domain.Reshare) {
	row := db.db.QueryRow(sqlSelectReshareByPair, actorId.String(), articleId.String())
	var r domain.Reshare
	var idStr, actorIdStr, articleIdStr string
	err := row.Scan(&idStr, &actorIdStr, &articleIdStr, &r.URI, &r.CreatedAt)
	if err != nil {
		return err, nil
	}
	r.Id, _ = uuid.Parse(idStr)
	r.ActorId, _ = uuid.Parse(actorIdStr)
	r.ArticleId, _ = uuid.Parse(articleIdStr)
	return nil, &r
}

func (db *DB) DeleteReshare(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteReshare, id.String())
		return err
	})
}

func (db *DB) CreateInboxRecord(rec *domain.InboxRecord) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInboxRecord,
			rec.Id.String(),
			rec.ActivityURI,
			rec.ActivityType,
			rec.ActorURI,
			rec.CreatedAt,
		)
		return err
	})
}

func (db *DB) InboxRecordExists(activityURI string) (error, bool) {
	var count int
	if err := db.db.QueryRow(sqlCountInboxRecord, activityURI).Scan(&count); err != nil {
		return err, false
	}
	return nil, count > 0
}

// Notify stores a notification row. Implements the dispatcher's Notifier.
func (db *DB) Notify(n *domain.Notification) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNotification,
			n.Id.String(),
			n.Kind,
			n.ActorId.String(),
			n.TargetActorId.String(),
			n.ObjectURI,
			n.CreatedAt,
		)
		return err
	})
}

func (db *DB) NotificationsFor(targetActorId uuid.UUID, limit int) (error, *[]domain.Notification) {
	rows, err := db.db.Query(sqlSelectNotifications, targetActorId.String(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notifications []domain.Notification

	for rows.Next() {
		var n domain.Notification
		var idStr, actorIdStr, targetIdStr string
		if err := rows.Scan(&idStr, &n.Kind, &actorIdStr, &targetIdStr, &n.ObjectURI, &n.Read, &n.CreatedAt); err != nil {
			return err, &notifications
		}
		n.Id, _ = uuid.Parse(idStr)
		n.ActorId, _ = uuid.Parse(actorIdStr)
		n.TargetActorId, _ = uuid.Parse(targetIdStr)
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return err, &notifications
	}

	return nil, &notifications
}

func (db *DB) MarkNotificationRead(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkNotificationRead, id.String())
		return err
	})
}
