// Package events defines the routing keys and payloads exchanged between the
// social services. Payloads carry every id a consumer needs so no consumer
// ever calls back into the publisher.
package events

import "time"

// Routing keys.
const (
	PostCreated = "post.created"
	PostDeleted = "post.deleted"
)

// Consumer groups. Each group owns one durable queue.
const (
	GroupSearch = "search-service"
	GroupMedia  = "media-service"
)

// PostCreatedPayload is published after a post is committed.
type PostCreatedPayload struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	MediaIDs  []string  `json:"mediaIds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostDeletedPayload is published after a post is removed.
type PostDeletedPayload struct {
	PostID   string   `json:"postId"`
	UserID   string   `json:"userId"`
	MediaIDs []string `json:"mediaIds,omitempty"`
}
