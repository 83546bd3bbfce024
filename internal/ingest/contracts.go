package ingest

import (
	"sync"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// RecordSink receives the records of one parse run, in file order.
type RecordSink interface {
	AddMessages([]model.Message) error
	AddErrors([]model.ErrorEvent) error
	AddCarrierEvents([]model.CarrierEvent) error
}

// MemorySink keeps every delivered record in memory.
type MemorySink struct {
	mu       sync.Mutex
	Messages []model.Message
	Errors   []model.ErrorEvent
	Carriers []model.CarrierEvent
}

func (s *MemorySink) AddMessages(msgs []model.Message) error {
	s.mu.Lock()
	s.Messages = append(s.Messages, msgs...)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) AddErrors(errs []model.ErrorEvent) error {
	s.mu.Lock()
	s.Errors = append(s.Errors, errs...)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) AddCarrierEvents(events []model.CarrierEvent) error {
	s.mu.Lock()
	s.Carriers = append(s.Carriers, events...)
	s.mu.Unlock()
	return nil
}
