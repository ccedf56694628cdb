package publisher

import (
	"time"

	"github.com/google/uuid"

	"mp_harvester/internal/domain"
)

const ActionMaterialized = "item.materialized"

// ItemMessage announces a content file written to disk.
type ItemMessage struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Source     string    `json:"source"`
	ItemID     string    `json:"item_id"`
	Title      string    `json:"title"`
	ContentURL string    `json:"content_url"`
	Path       string    `json:"path"`
	Bytes      int64     `json:"bytes"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewItemMessage(res domain.RetrievalResult, now time.Time) ItemMessage {
	return ItemMessage{
		ID:         uuid.NewString(),
		Action:     ActionMaterialized,
		Source:     res.Task.Source,
		ItemID:     res.Task.ItemID,
		Title:      res.Task.Title,
		ContentURL: res.Task.ContentURL,
		Path:       res.Task.Destination,
		Bytes:      res.Bytes,
		Timestamp:  now.UTC(),
	}
}
