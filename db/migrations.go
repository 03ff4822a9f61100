package db

import (
	"database/sql"

	"github.com/charmbracelet/log"
)

const (
	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances(
                        id TEXT NOT NULL PRIMARY KEY,
                        public_domain TEXT UNIQUE NOT NULL,
                        local INTEGER DEFAULT 0,
                        blocked INTEGER DEFAULT 0,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
                        )`

	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors(
                        id TEXT NOT NULL PRIMARY KEY,
                        uri TEXT UNIQUE NOT NULL,
                        username TEXT NOT NULL,
                        display_name TEXT,
                        summary TEXT,
                        inbox_uri TEXT NOT NULL,
                        shared_inbox_uri TEXT,
                        outbox_uri TEXT,
                        followers_uri TEXT,
                        public_key_pem TEXT NOT NULL,
                        private_key_pem TEXT,
                        instance_id TEXT NOT NULL,
                        local INTEGER DEFAULT 0,
                        tombstoned INTEGER DEFAULT 0,
                        last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
                        )`

	sqlCreateArticlesTable = `CREATE TABLE IF NOT EXISTS articles(
                        id TEXT NOT NULL PRIMARY KEY,
                        uri TEXT UNIQUE NOT NULL,
                        author_id TEXT NOT NULL,
                        title TEXT,
                        content TEXT,
                        summary TEXT,
                        tombstoned INTEGER DEFAULT 0,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
                        updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
                        )`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows(
                        id TEXT NOT NULL PRIMARY KEY,
                        actor_id TEXT NOT NULL,
                        target_actor_id TEXT NOT NULL,
                        uri TEXT,
                        accepted INTEGER DEFAULT 0,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
                        UNIQUE(actor_id, target_actor_id)
                        )`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes(
                        id TEXT NOT NULL PRIMARY KEY,
                        actor_id TEXT NOT NULL,
                        article_id TEXT NOT NULL,
                        uri TEXT,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
                        UNIQUE(actor_id, article_id)
                        )`

	sqlCreateResharesTable = `CREATE TABLE IF NOT EXISTS reshares(
                        id TEXT NOT NULL PRIMARY KEY,
                        actor_id TEXT NOT NULL,
                        article_id TEXT NOT NULL,
                        uri TEXT,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
                        UNIQUE(actor_id, article_id)
                        )`

	// The unique activity_uri is what makes inbound dispatch exactly-once.
	sqlCreateInboxRecordsTable = `CREATE TABLE IF NOT EXISTS inbox_records(
                        id TEXT NOT NULL PRIMARY KEY,
                        activity_uri TEXT UNIQUE NOT NULL,
                        activity_type TEXT NOT NULL,
                        actor_uri TEXT NOT NULL,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
                        )`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications(
                        id TEXT NOT NULL PRIMARY KEY,
                        kind TEXT NOT NULL,
                        actor_id TEXT NOT NULL,
                        target_actor_id TEXT NOT NULL,
                        object_uri TEXT,
                        read INTEGER DEFAULT 0,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
                        )`

	sqlCreateTimelineTable = `CREATE TABLE IF NOT EXISTS timeline(
                        id TEXT NOT NULL PRIMARY KEY,
                        kind TEXT NOT NULL,
                        article_id TEXT NOT NULL,
                        actor_id TEXT NOT NULL,
                        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
                        )`

	sqlCreateIndices = `
                        CREATE INDEX IF NOT EXISTS idx_actors_uri ON actors(uri);
                        CREATE INDEX IF NOT EXISTS idx_actors_username ON actors(username);
                        CREATE INDEX IF NOT EXISTS idx_articles_uri ON articles(uri);
                        CREATE INDEX IF NOT EXISTS idx_articles_author ON articles(author_id);
                        CREATE INDEX IF NOT EXISTS idx_follows_target ON follows(target_actor_id);
                        CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
                        CREATE INDEX IF NOT EXISTS idx_likes_article ON likes(article_id);
                        CREATE INDEX IF NOT EXISTS idx_reshares_article ON reshares(article_id);
                        CREATE INDEX IF NOT EXISTS idx_inbox_records_uri ON inbox_records(activity_uri);
                        CREATE INDEX IF NOT EXISTS idx_notifications_target ON notifications(target_actor_id);
                        CREATE INDEX IF NOT EXISTS idx_timeline_created_at ON timeline(created_at DESC);
                        `
)

// migrate creates the schema. All statements are idempotent so this runs on
// every start.
func (db *DB) migrate() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			stmt string
		}{
			{"instances", sqlCreateInstancesTable},
			{"actors", sqlCreateActorsTable},
			{"articles", sqlCreateArticlesTable},
			{"follows", sqlCreateFollowsTable},
			{"likes", sqlCreateLikesTable},
			{"reshares", sqlCreateResharesTable},
			{"inbox_records", sqlCreateInboxRecordsTable},
			{"notifications", sqlCreateNotificationsTable},
			{"timeline", sqlCreateTimelineTable},
		}
		for _, table := range tables {
			if _, err := tx.Exec(table.stmt); err != nil {
				log.Error("Failed to create table", "table", table.name, "err", err)
				return err
			}
		}

		if _, err := tx.Exec(sqlCreateIndices); err != nil {
			log.Warn("Failed to create indices", "err", err)
		}
		return nil
	})
}
