package service

import (
	"context"

	"imageOptimizer/api/kafka"
)

type QueueInspector interface {
	QueueInfo(ctx context.Context) (*kafka.QueueInfo, error)
}

type InFlightCounter interface {
	InFlight(ctx context.Context) (int, error)
}

// Health aggregates queue depth and in-flight work for the health endpoint.
type Health struct {
	queue QueueInspector
	store InFlightCounter
}

func NewHealth(queue QueueInspector, store InFlightCounter) *Health {
	return &Health{queue: queue, store: store}
}

func (h *Health) QueueInfo(ctx context.Context) (*kafka.QueueInfo, error) {
	return h.queue.QueueInfo(ctx)
}

func (h *Health) InFlight(ctx context.Context) (int, error) {
	return h.store.InFlight(ctx)
}
