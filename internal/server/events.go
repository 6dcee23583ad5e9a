package server

import (
	"context"
	"encoding/json"
	"log"
)

// Event type constants prevent typos in event names.
const (
	EventPostCreated        = "post_created"
	EventPostDeleted        = "post_deleted"
	EventPostLikeUpdated    = "post_like_updated"
	EventCommentCreated     = "comment_created"
	EventCommentUpdated     = "comment_updated"
	EventCommentDeleted     = "comment_deleted"
	EventCommentLikeUpdated = "comment_like_updated"
)

func (s *Server) publishBroadcastEvent(eventType string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	event := map[string]interface{}{
		"type":    eventType,
		"payload": payload,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		log.Printf("failed to marshal %s event: %v", eventType, err)
		return
	}
	if err := s.notifier.PublishBroadcast(context.Background(), string(eventJSON)); err != nil {
		log.Printf("failed to publish %s broadcast event: %v", eventType, err)
	}
}
