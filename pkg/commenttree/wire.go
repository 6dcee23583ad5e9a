package commenttree

import (
	"encoding/json"
	"time"
)

// ID is an opaque comment/post/user identifier. The wire carries ids either as
// JSON strings or as numbers depending on which backend produced the payload;
// both decode into the same normalized string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*id = ID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Author is the populated author of a comment. The wire sometimes carries only
// the author's id (string or number) instead of the populated object; in that
// case only ID is set.
type Author struct {
	ID             ID     `json:"_id"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
}

func (a *Author) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '{' {
		var id ID
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*a = Author{ID: id}
		return nil
	}

	var aux struct {
		MongoID        ID     `json:"_id"`
		NumID          ID     `json:"id"`
		FirstName      string `json:"firstName"`
		LastName       string `json:"lastName"`
		AltFirstName   string `json:"first_name"`
		AltLastName    string `json:"last_name"`
		Username       string `json:"username"`
		ProfilePicture string `json:"profilePicture"`
		AltPicture     string `json:"profile_picture"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.ID = firstID(aux.MongoID, aux.NumID)
	a.FirstName = firstString(aux.FirstName, aux.AltFirstName)
	a.LastName = firstString(aux.LastName, aux.AltLastName)
	a.Username = aux.Username
	a.ProfilePicture = firstString(aux.ProfilePicture, aux.AltPicture)
	return nil
}

// LikeRef is one entry of a comment's likes set. The wire carries either the
// liking user's bare id or an object holding it; membership tests always
// compare the normalized id.
type LikeRef struct {
	UserID ID
}

func (l *LikeRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var aux struct {
			MongoID ID `json:"_id"`
			NumID   ID `json:"id"`
		}
		if err := json.Unmarshal(data, &aux); err != nil {
			return err
		}
		l.UserID = firstID(aux.MongoID, aux.NumID)
		return nil
	}
	return json.Unmarshal(data, &l.UserID)
}

func (l LikeRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(l.UserID))
}

// Comment is one node of the two-level tree: a top-level comment when
// ParentComment is empty, a reply otherwise.
type Comment struct {
	ID            ID
	Post          ID
	Author        Author
	Content       string
	ParentComment ID
	Likes         []LikeRef
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c *Comment) UnmarshalJSON(data []byte) error {
	var aux struct {
		MongoID       ID        `json:"_id"`
		NumID         ID        `json:"id"`
		Post          ID        `json:"post"`
		AltPost       ID        `json:"post_id"`
		Author        Author    `json:"author"`
		AltAuthor     Author    `json:"user"`
		Content       string    `json:"content"`
		ParentComment *ID       `json:"parentComment"`
		AltParent     *ID       `json:"parent_comment_id"`
		Likes         []LikeRef `json:"likes"`
		CreatedAt     time.Time `json:"createdAt"`
		AltCreatedAt  time.Time `json:"created_at"`
		UpdatedAt     time.Time `json:"updatedAt"`
		AltUpdatedAt  time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.ID = firstID(aux.MongoID, aux.NumID)
	c.Post = firstID(aux.Post, aux.AltPost)
	if aux.Author.ID != "" {
		c.Author = aux.Author
	} else {
		c.Author = aux.AltAuthor
	}
	c.Content = aux.Content
	c.ParentComment = ""
	if aux.ParentComment != nil {
		c.ParentComment = *aux.ParentComment
	} else if aux.AltParent != nil {
		c.ParentComment = *aux.AltParent
	}
	c.Likes = aux.Likes
	c.CreatedAt = aux.CreatedAt
	if c.CreatedAt.IsZero() {
		c.CreatedAt = aux.AltCreatedAt
	}
	c.UpdatedAt = aux.UpdatedAt
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = aux.AltUpdatedAt
	}
	return nil
}

// IsReply reports whether the comment hangs under a top-level comment.
func (c *Comment) IsReply() bool {
	return c.ParentComment != ""
}

// LikeCount returns the size of the likes set.
func (c *Comment) LikeCount() int {
	return len(c.Likes)
}

// LikedBy reports whether the given user's id is in the likes set.
func (c *Comment) LikedBy(user ID) bool {
	if user == "" {
		return false
	}
	for _, l := range c.Likes {
		if l.UserID == user {
			return true
		}
	}
	return false
}

// Edited reports whether the content changed after creation.
func (c *Comment) Edited() bool {
	return c.UpdatedAt.After(c.CreatedAt)
}

func firstID(ids ...ID) ID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
