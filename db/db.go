package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/util"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database handle. Built once in main and passed down; everything
// that talks to storage takes it as a dependency.
type DB struct {
	db *sql.DB
}

const (
	// Actors
	sqlInsertActor = `INSERT INTO actors(id, uri, username, display_name, summary, inbox_uri, shared_inbox_uri,
                        outbox_uri, followers_uri, public_key_pem, private_key_pem, instance_id, local, tombstoned,
                        last_fetched_at, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                        ON CONFLICT(uri) DO NOTHING`
	sqlSelectActor = `SELECT id, uri, username, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri,
                        followers_uri, public_key_pem, private_key_pem, instance_id, local, tombstoned,
                        last_fetched_at, created_at FROM actors`
	sqlSelectActorByURI      = sqlSelectActor + ` WHERE uri = ?`
	sqlSelectActorById       = sqlSelectActor + ` WHERE id = ?`
	sqlSelectActorByUsername = sqlSelectActor + ` WHERE username = ? AND local = 1`
	sqlUpdateActorProfile    = `UPDATE actors SET username = ?, display_name = ?, summary = ?, inbox_uri = ?,
                        shared_inbox_uri = ?, outbox_uri = ?, followers_uri = ?, public_key_pem = ?,
                        last_fetched_at = ? WHERE uri = ?`
	sqlUpdateActorKeys = `UPDATE actors SET public_key_pem = ?, private_key_pem = ? WHERE id = ?`
	sqlTombstoneActor  = `UPDATE actors SET tombstoned = 1 WHERE id = ?`

	// Instances
	sqlInsertInstance = `INSERT INTO instances(id, public_domain, local, blocked, created_at) VALUES (?, ?, ?, 0, ?)
                        ON CONFLICT(public_domain) DO NOTHING`
	sqlSelectInstanceByDomain = `SELECT id, public_domain, local, blocked, created_at FROM instances WHERE public_domain = ?`
)

// Open opens the database at the configured path and prepares the
// connection pool. The pool is sized from config so a burst of deliveries
// cannot exhaust sqlite with writers.
func Open(conf *util.AppConfig) (*DB, error) {
	sqldb, err := sql.Open("sqlite", conf.Conf.DbPath)
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxOpenConns(conf.Conf.DbMaxConns)
	sqldb.SetMaxIdleConns(5)
	sqldb.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqldb.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Warn("Failed to enable WAL mode", "err", err)
	} else {
		log.Debug("Database journal mode", "mode", journalMode)
	}

	sqldb.Exec("PRAGMA synchronous = NORMAL")
	sqldb.Exec("PRAGMA cache_size = -64000")
	sqldb.Exec("PRAGMA temp_store = MEMORY")
	sqldb.Exec("PRAGMA busy_timeout = 5000")
	sqldb.Exec("PRAGMA foreign_keys = ON")

	database := &DB{db: sqldb}
	if err := database.migrate(); err != nil {
		sqldb.Close()
		return nil, err
	}

	log.Info("Database initialized", "path", conf.Conf.DbPath, "maxConns", conf.Conf.DbMaxConns)
	return database, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction, retrying
// while sqlite reports SQLITE_BUSY.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("error starting transaction", "err", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Error("error in transaction", "err", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Error("error committing transaction", "err", err)
			return err
		}
		break
	}
	return nil
}

func (db *DB) CreateActor(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor,
			a.Id.String(),
			a.URI,
			a.Username,
			a.DisplayName,
			a.Summary,
			a.InboxURI,
			a.SharedInboxURI,
			a.OutboxURI,
			a.FollowersURI,
			a.PublicKeyPem,
			a.PrivateKeyPem,
			a.InstanceId.String(),
			a.Local,
			a.Tombstoned,
			a.LastFetchedAt,
			a.CreatedAt,
		)
		return err
	})
}

func (db *DB) ActorByURI(uri string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByURI, uri))
}

func (db *DB) ActorById(id uuid.UUID) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) ActorByUsername(username string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByUsername, username))
}

func (db *DB) scanActor(row *sql.Row) (error, *domain.Actor) {
	var a domain.Actor
	var idStr, instanceIdStr string
	err := row.Scan(
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
	)
	if err != nil {
		return err, nil
	}
	a.Id, _ = uuid.Parse(idStr)
	a.InstanceId, _ = uuid.Parse(instanceIdStr)
	return nil, &a
}

func (db *DB) UpdateActorProfile(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorProfile,
			a.Username,
			a.DisplayName,
			a.Summary,
			a.InboxURI,
			a.SharedInboxURI,
			a.OutboxURI,
			a.FollowersURI,
			a.PublicKeyPem,
			a.LastFetchedAt,
			a.URI,
		)
		return err
	})
}

func (db *DB) UpdateActorKeys(id uuid.UUID, publicPem, privatePem string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorKeys, publicPem, privatePem, id.String())
		return err
	})
}

func (db *DB) TombstoneActor(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlTombstoneActor, id.String())
		return err
	})
}

// EnsureInstance returns the instance row for a domain, creating it when
// unknown. The blocked flag on an existing row is never touched here.
func (db *DB) EnsureInstance(publicDomain string, local bool) (error, *domain.Instance) {
	if err, existing := db.InstanceByDomain(publicDomain); err == nil && existing != nil {
		return nil, existing
	}

	inst := &domain.Instance{
		Id:           uuid.New(),
		PublicDomain: publicDomain,
		Local:        local,
		CreatedAt:    time.Now(),
	}
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInstance, inst.Id.String(), inst.PublicDomain, inst.Local, inst.CreatedAt)
		return err
	})
	if err != nil {
		return err, nil
	}
	// Reread in case a concurrent insert won the conflict.
	return db.InstanceByDomain(publicDomain)
}

func (db *DB) InstanceByDomain(publicDomain string) (error, *domain.Instance) {
	row := db.db.QueryRow(sqlSelectInstanceByDomain, publicDomain)
	var inst domain.Instance
	var idStr string
	err := row.Scan(&idStr, &inst.PublicDomain, &inst.Local, &inst.Blocked, &inst.CreatedAt)
	if err != nil {
		return err, nil
	}
	inst.Id, _ = uuid.Parse(idStr)
	return nil, &inst
}

// BlockInstance flips the blocked flag for an instance domain.
func (db *DB) BlockInstance(publicDomain string, blocked bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE instances SET blocked = ? WHERE public_domain = ?`, blocked, publicDomain)
		return err
	})
}
