// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Comment represents a comment on a post. Comments are flat rows: a reply is a
// comment whose ParentCommentID points at a top-level comment. Only one level
// of nesting exists; a reply can never be the parent of another comment.
type Comment struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	Content         string   `gorm:"type:text;not null" json:"content"`
	UserID          uint     `gorm:"not null;index" json:"user_id"`
	PostID          uint     `gorm:"not null;index" json:"post_id"`
	ParentCommentID *uint    `gorm:"index" json:"parent_comment_id"`
	User            User     `gorm:"foreignKey:UserID" json:"user"`
	Post            Post     `gorm:"foreignKey:PostID" json:"post,omitempty"`
	ParentComment   *Comment `gorm:"foreignKey:ParentCommentID" json:"parent_comment,omitempty"`
	// LikesCount is not persisted; computed at query time
	LikesCount int `gorm:"->" json:"likes_count"`
	// RepliesCount is not persisted; computed at query time. Only meaningful
	// on top-level comments.
	RepliesCount int `gorm:"->" json:"replies_count"`
	// Liked indicates whether the current requesting user liked this comment (computed)
	Liked bool `gorm:"->" json:"liked"`
	// Likes holds the ids of the users who liked this comment. Not a column;
	// the repository fills it from comment_likes so clients can derive like
	// state for any user from the response alone.
	Likes     []uint         `gorm:"-" json:"likes"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsReply reports whether the comment is a reply to another comment.
func (c *Comment) IsReply() bool {
	return c.ParentCommentID != nil
}

// Edited reports whether the comment content was changed after creation.
// The UI renders an "edited" marker off this.
func (c *Comment) Edited() bool {
	return c.UpdatedAt.After(c.CreatedAt)
}
