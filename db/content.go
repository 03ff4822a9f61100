package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
)

const (
	sqlInsertArticle = `INSERT INTO articles(id, uri, author_id, title, content, summary, tombstoned, created_at, updated_at)
                        VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
                        ON CONFLICT(uri) DO NOTHING`
	sqlSelectArticle = `SELECT id, uri, author_id, title, content, summary, tombstoned, created_at, updated_at
                        FROM articles`
	sqlSelectArticleByURI = sqlSelectArticle + ` WHERE uri = ?`
	sqlSelectArticleById  = sqlSelectArticle + ` WHERE id = ?`
	sqlSelectByAuthor     = sqlSelectArticle + ` WHERE author_id = ? AND tombstoned = 0
                        ORDER BY created_at DESC LIMIT ?`
	sqlSelectRecent     = sqlSelectArticle + ` WHERE tombstoned = 0 ORDER BY created_at DESC LIMIT ?`
	sqlUpdateArticle    = `UPDATE articles SET title = ?, content = ?, summary = ?, updated_at = ? WHERE id = ?`
	sqlTombstoneArticle = `UPDATE articles SET tombstoned = 1 WHERE id = ?`

	sqlInsertTimelineEntry = `INSERT INTO timeline(id, kind, article_id, actor_id, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectTimeline      = `SELECT id, kind, article_id, actor_id, created_at FROM timeline
                        ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) CreateArticle(a *domain.Article) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertArticle,
			a.Id.String(),
			a.URI,
			a.AuthorId.String(),
			a.Title,
			a.Content,
			a.Summary,
			a.CreatedAt,
			a.UpdatedAt,
		)
		return err
	})
}

func (db *DB) ArticleByURI(uri string) (error, *domain.Article) {
	return db.scanArticle(db.db.QueryRow(sqlSelectArticleByURI, uri))
}

func (db *DB) ArticleById(id uuid.UUID) (error, *domain.Article) {
	return db.scanArticle(db.db.QueryRow(sqlSelectArticleById, id.String()))
}

func (db *DB) scanArticle(row *sql.Row) (error, *domain.Article) {
	var a domain.Article
	var idStr, authorIdStr string
	err := row.Scan(&idStr, &a.URI, &authorIdStr, &a.Title, &a.Content, &a.Summary, &a.Tombstoned, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return err, nil
	}
	a.Id, _ = uuid.Parse(idStr)
	a.AuthorId, _ = uuid.Parse(authorIdStr)
	return nil, &a
}

func (db *DB) ArticlesByAuthor(authorId uuid.UUID, limit int) (error, *[]domain.Article) {
	return db.queryArticles(sqlSelectByAuthor, authorId.String(), limit)
}

func (db *DB) RecentArticles(limit int) (error, *[]domain.Article) {
	return db.queryArticles(sqlSelectRecent, limit)
}

func (db *DB) queryArticles(query string, args ...interface{}) (error, *[]domain.Article) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var articles []domain.Article

	for rows.Next() {
		var a domain.Article
		var idStr, authorIdStr string
		if err := rows.Scan(&idStr, &a.URI, &authorIdStr, &a.Title, &a.Content, &a.Summary, &a.Tombstoned, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return err, &articles
		}
		a.Id, _ = uuid.Parse(idStr)
		a.AuthorId, _ = uuid.Parse(authorIdStr)
		articles = append(articles, a)
	}
	if err = rows.Err(); err != nil {
		return err, &articles
	}

	return nil, &articles
}

func (db *DB) UpdateArticle(a *domain.Article) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateArticle, a.Title, a.Content, a.Summary, a.UpdatedAt, a.Id.String())
		return err
	})
}

func (db *DB) TombstoneArticle(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlTombstoneArticle, id.String())
		return err
	})
}

func (db *DB) AddToTimeline(entry *domain.TimelineEntry) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertTimelineEntry,
			entry.Id.String(),
			entry.Kind,
			entry.ArticleId.String(),
			entry.ActorId.String(),
			entry.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadTimeline(limit int) (error, *[]domain.TimelineEntry) {
	rows, err := db.db.Query(sqlSelectTimeline, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var entries []domain.TimelineEntry

	for rows.Next() {
		var e domain.TimelineEntry
		var idStr, articleIdStr, actorIdStr string
		if err := rows.Scan(&idStr, &e.Kind, &articleIdStr, &actorIdStr, &e.CreatedAt); err != nil {
			return err, &entries
		}
		e.Id, _ = uuid.Parse(idStr)
		e.ArticleId, _ = uuid.Parse(articleIdStr)
		e.ActorId, _ = uuid.Parse(actorIdStr)
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return err, &entries
	}

	return nil, &entries
}
