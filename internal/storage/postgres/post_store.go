package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// PostStore persists normalized posts. It assumes a table schema like:
//
//	CREATE TABLE scraped_posts (
//		platform TEXT NOT NULL,
//		post_id TEXT NOT NULL,
//		folder_id UUID NOT NULL REFERENCES folders(id),
//		author_handle TEXT NOT NULL DEFAULT '',
//		content TEXT NOT NULL DEFAULT '',
//		likes INT NOT NULL DEFAULT 0,
//		comments INT NOT NULL DEFAULT 0,
//		shares INT NOT NULL DEFAULT 0,
//		posted_at TIMESTAMPTZ,
//		request_id UUID NOT NULL,
//		raw_payload JSONB,
//		delivery_channel TEXT NOT NULL,
//		delivered_at TIMESTAMPTZ NOT NULL,
//		PRIMARY KEY (platform, post_id, folder_id)
//	);
//
// Upserts only replace engagement fields when the incoming delivery is newer
// than the stored one, so out-of-order redeliveries never roll counts back.
type PostStore struct {
	pool Pool
}

// NewPostStore constructs a PostStore on the given pool.
func NewPostStore(pool Pool) (*PostStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostStore{pool: pool}, nil
}

const upsertPostQuery = `
INSERT INTO scraped_posts (
	platform, post_id, folder_id, author_handle, content,
	likes, comments, shares, posted_at, request_id,
	raw_payload, delivery_channel, delivered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (platform, post_id, folder_id) DO UPDATE SET
	author_handle = EXCLUDED.author_handle,
	content = EXCLUDED.content,
	likes = EXCLUDED.likes,
	comments = EXCLUDED.comments,
	shares = EXCLUDED.shares,
	request_id = EXCLUDED.request_id,
	raw_payload = EXCLUDED.raw_payload,
	delivery_channel = EXCLUDED.delivery_channel,
	delivered_at = EXCLUDED.delivered_at
WHERE scraped_posts.delivered_at < EXCLUDED.delivered_at
RETURNING (xmax = 0) AS inserted`

// UpsertPosts writes a batch. Conflicting rows with an equal or newer stored
// delivery are counted as skipped.
func (s *PostStore) UpsertPosts(ctx context.Context, posts []scraper.ScrapedPost) (scraper.UpsertStats, error) {
	var stats scraper.UpsertStats
	for _, post := range posts {
		var inserted bool
		err := s.pool.QueryRow(ctx, upsertPostQuery,
			post.Platform, post.PostID, post.FolderID, post.AuthorHandle, post.Content,
			post.Likes, post.Comments, post.Shares, post.PostedAt, post.RequestID,
			post.RawPayload, post.Channel, post.DeliveredAt,
		).Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Conflict lost the freshness comparison.
			stats.Skipped++
		case err != nil:
			return stats, fmt.Errorf("upsert post %s/%s: %w", post.Platform, post.PostID, err)
		case inserted:
			stats.Inserted++
		default:
			stats.Updated++
		}
	}
	return stats, nil
}

const postColumns = `platform, post_id, folder_id, author_handle, content,
likes, comments, shares, posted_at, request_id,
raw_payload, delivery_channel, delivered_at`

// ListPosts returns a folder's posts, newest publication first.
func (s *PostStore) ListPosts(ctx context.Context, folderID string) ([]scraper.ScrapedPost, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+postColumns+`
FROM scraped_posts
WHERE folder_id = $1
ORDER BY posted_at DESC, post_id`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	var out []scraper.ScrapedPost
	for rows.Next() {
		var p scraper.ScrapedPost
		if err := rows.Scan(&p.Platform, &p.PostID, &p.FolderID, &p.AuthorHandle, &p.Content,
			&p.Likes, &p.Comments, &p.Shares, &p.PostedAt, &p.RequestID,
			&p.RawPayload, &p.Channel, &p.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// CountPosts returns the number of posts in a folder.
func (s *PostStore) CountPosts(ctx context.Context, folderID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scraped_posts WHERE folder_id = $1`, folderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}
