package adapter

import "thumbnail-service/internal/domain/model"

// Publisher delivers a job update to every live session of ownerID.
type Publisher interface {
	Publish(ownerID string, update model.JobUpdate)
}
