package models

import "time"

// CommentLike represents a user's like on a comment. The unique index over
// (UserID, CommentID) is what makes likeComment/unlikeComment safe to call
// when the target state already holds: inserts use ON CONFLICT DO NOTHING and
// deletes simply match zero rows.
type CommentLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_comment" json:"user_id"`
	CommentID uint      `gorm:"not null;uniqueIndex:idx_user_comment;index" json:"comment_id"`
	CreatedAt time.Time `json:"created_at"`

	User    User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Comment Comment `gorm:"foreignKey:CommentID" json:"comment,omitempty"`
}
