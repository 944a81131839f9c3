package memory

import (
	"context"
	"sync"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

type postKey struct {
	platform scraper.Platform
	postID   string
	folderID string
}

// PostStore keeps normalized posts in process memory, deduplicated on
// (platform, post id, folder id) like the relational constraint.
type PostStore struct {
	mu    sync.RWMutex
	posts map[postKey]scraper.ScrapedPost
	order []postKey
}

// NewPostStore constructs a PostStore.
func NewPostStore() *PostStore {
	return &PostStore{
		posts: make(map[postKey]scraper.ScrapedPost),
	}
}

// UpsertPosts inserts new rows and refreshes engagement counters on existing
// rows only when the incoming delivery is newer.
func (s *PostStore) UpsertPosts(_ context.Context, posts []scraper.ScrapedPost) (scraper.UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats scraper.UpsertStats
	for _, post := range posts {
		key := postKey{platform: post.Platform, postID: post.PostID, folderID: post.FolderID}
		existing, ok := s.posts[key]
		switch {
		case !ok:
			s.posts[key] = post
			s.order = append(s.order, key)
			stats.Inserted++
		case post.DeliveredAt.After(existing.DeliveredAt):
			existing.Likes = post.Likes
			existing.Comments = post.Comments
			existing.Shares = post.Shares
			existing.DeliveredAt = post.DeliveredAt
			existing.Channel = post.Channel
			s.posts[key] = existing
			stats.Updated++
		default:
			stats.Skipped++
		}
	}
	return stats, nil
}

// ListPosts returns the posts stored under a folder in insertion order.
func (s *PostStore) ListPosts(_ context.Context, folderID string) ([]scraper.ScrapedPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.ScrapedPost
	for _, key := range s.order {
		if key.folderID == folderID {
			out = append(out, s.posts[key])
		}
	}
	return out, nil
}

// CountPosts returns the number of posts stored under a folder.
func (s *PostStore) CountPosts(_ context.Context, folderID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for key := range s.posts {
		if key.folderID == folderID {
			count++
		}
	}
	return count, nil
}
