package models

const RegelRytterenQueue = "RegelRytteren"

// RegelRytterenSettings are the route-optimisation inputs.
type RegelRytterenSettings struct {
	Bikes         int  `json:"bikes"`
	Cars          int  `json:"cars"`
	Vejman        bool `json:"vejman"`
	Henstillinger bool `json:"henstillinger"`
}

// DefaultRegelRytterenSettings mirrors the initial form values.
func DefaultRegelRytterenSettings() RegelRytterenSettings {
	return RegelRytterenSettings{Bikes: 1, Cars: 1, Vejman: true, Henstillinger: true}
}

// QueueJob is the envelope posted to the queue endpoint.
type QueueJob struct {
	QueueName string                `json:"queue_name"`
	Status    string                `json:"status"`
	Data      RegelRytterenSettings `json:"data"`
}

// RegelRytterenResult is the outcome shown to the user.
type RegelRytterenResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
