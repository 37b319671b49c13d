package dto

import (
	"time"

	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
)

type NotificationResponse struct {
	ID        string                 `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Link      *string                `json:"link,omitempty"`
	ReadAt    *time.Time             `json:"readAt,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

type NotificationListResponse struct {
	Items  []NotificationResponse `json:"items"`
	Cursor string                 `json:"cursor,omitempty"`
}

func NewNotificationListResponse(rows []models.Notification, cursor string) NotificationListResponse {
	out := NotificationListResponse{Items: make([]NotificationResponse, 0, len(rows)), Cursor: cursor}
	for _, n := range rows {
		out.Items = append(out.Items, NotificationResponse{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Link:      n.Link,
			ReadAt:    n.ReadAt,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}
