package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultBufferSize is the default size of the event buffer
	DefaultBufferSize = 1000

	// DefaultEventTimeout is the maximum time to wait for a handler
	DefaultEventTimeout = 2 * time.Second
)

// EmitterConfig contains configuration for the event emitter
type EmitterConfig struct {
	BufferSize    int           // size of the event buffer channel
	EventTimeout  time.Duration // timeout per subscriber handler
	CoordinatorID string        // stamped on every event
}

// DefaultConfig returns a default emitter configuration
func DefaultConfig() *EmitterConfig {
	return &EmitterConfig{
		BufferSize:   DefaultBufferSize,
		EventTimeout: DefaultEventTimeout,
	}
}

// Emitter is a thread-safe asynchronous event emitter. Events that would
// block because the buffer is full are dropped, never letting observability
// stall the validation state machine.
type Emitter struct {
	config *EmitterConfig

	eventChan chan *Event

	subscribers map[string]*Subscriber
	subMutex    sync.RWMutex

	eventsEmitted   uint64
	eventsDropped   uint64
	eventsProcessed uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewEmitter creates a new event emitter with the given configuration
func NewEmitter(config *EmitterConfig) *Emitter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.EventTimeout <= 0 {
		config.EventTimeout = DefaultEventTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Emitter{
		config:      config,
		eventChan:   make(chan *Event, config.BufferSize),
		subscribers: make(map[string]*Subscriber),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins processing events
func (e *Emitter) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("emitter already running")
	}

	log.Info("Starting event emitter")

	e.wg.Add(1)
	go e.processEvents()

	return nil
}

// Stop gracefully shuts down the emitter, draining buffered events.
func (e *Emitter) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return fmt.Errorf("emitter not running")
	}

	log.Info("Stopping event emitter")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("Event emitter shutdown timeout, some events may be lost")
	}

	return nil
}

// Emit sends an event asynchronously. Returns an error when the event was
// dropped; callers treat that as non-fatal.
func (e *Emitter) Emit(event *Event) error {
	if !e.running.Load() {
		return fmt.Errorf("emitter not running")
	}

	if event.CoordinatorID == "" {
		event.CoordinatorID = e.config.CoordinatorID
	}

	atomic.AddUint64(&e.eventsEmitted, 1)

	select {
	case e.eventChan <- event:
		return nil
	default:
		atomic.AddUint64(&e.eventsDropped, 1)
		log.WithFields(log.Fields{
			"event_type": event.Type,
			"event_id":   event.ID,
		}).Warn("Event dropped due to buffer overflow")
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// Subscribe adds a new subscriber for events
func (e *Emitter) Subscribe(subscriber *Subscriber) error {
	if subscriber == nil || subscriber.ID == "" || subscriber.Handler == nil {
		return fmt.Errorf("invalid subscriber")
	}

	e.subMutex.Lock()
	defer e.subMutex.Unlock()

	if _, exists := e.subscribers[subscriber.ID]; exists {
		return fmt.Errorf("subscriber %s already exists", subscriber.ID)
	}

	e.subscribers[subscriber.ID] = subscriber
	log.WithField("subscriber_id", subscriber.ID).Debug("Subscriber added")
	return nil
}

// Unsubscribe removes a subscriber
func (e *Emitter) Unsubscribe(subscriberID string) error {
	e.subMutex.Lock()
	defer e.subMutex.Unlock()

	if _, exists := e.subscribers[subscriberID]; !exists {
		return fmt.Errorf("subscriber %s not found", subscriberID)
	}

	delete(e.subscribers, subscriberID)
	return nil
}

// processEvents is the main event processing loop
func (e *Emitter) processEvents() {
	defer e.wg.Done()

	for {
		select {
		case event := <-e.eventChan:
			e.handleEvent(event)
		case <-e.ctx.Done():
			e.drainEvents()
			return
		}
	}
}

// handleEvent dispatches one event to every interested subscriber
func (e *Emitter) handleEvent(event *Event) {
	atomic.AddUint64(&e.eventsProcessed, 1)

	e.subMutex.RLock()
	interested := make([]*Subscriber, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		if len(sub.Types) > 0 && !containsType(sub.Types, event.Type) {
			continue
		}
		interested = append(interested, sub)
	}
	e.subMutex.RUnlock()

	for _, sub := range interested {
		done := make(chan struct{})
		go func(s *Subscriber) {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"subscriber_id": s.ID,
						"event_type":    event.Type,
						"error":         r,
					}).Error("Panic in event handler")
				}
			}()
			s.Handler(event)
		}(sub)

		select {
		case <-done:
		case <-time.After(e.config.EventTimeout):
			log.WithFields(log.Fields{
				"subscriber_id": sub.ID,
				"event_type":    event.Type,
			}).Warn("Event handler timeout")
		}
	}
}

// drainEvents processes remaining buffered events during shutdown
func (e *Emitter) drainEvents() {
	for {
		select {
		case event := <-e.eventChan:
			e.handleEvent(event)
		default:
			return
		}
	}
}

// Metrics returns current emitter counters
func (e *Emitter) Metrics() map[string]uint64 {
	return map[string]uint64{
		"events_emitted":   atomic.LoadUint64(&e.eventsEmitted),
		"events_dropped":   atomic.LoadUint64(&e.eventsDropped),
		"events_processed": atomic.LoadUint64(&e.eventsProcessed),
	}
}

func containsType(types []EventType, t EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Helper methods for common event types

// EmitSubmissionReceived emits a submission received event
func (e *Emitter) EmitSubmissionReceived(component string, payload *SubmissionEventPayload) error {
	event, err := NewEvent(EventSubmissionReceived, SeverityInfo, component, payload)
	if err != nil {
		return err
	}
	event.SubmissionID = payload.SubmissionID
	event.InstanceName = payload.InstanceName
	event.AgentID = payload.AgentID
	return e.Emit(event)
}

// EmitWindowResolved emits a window resolution event
func (e *Emitter) EmitWindowResolved(component string, payload *WindowEventPayload) error {
	event, err := NewEvent(EventWindowResolved, SeverityInfo, component, payload)
	if err != nil {
		return err
	}
	event.SubmissionID = payload.SubmissionID
	event.InstanceName = payload.InstanceName
	return e.Emit(event)
}

// EmitVoteRecorded emits a vote recorded event
func (e *Emitter) EmitVoteRecorded(component string, payload *VoteEventPayload) error {
	event, err := NewEvent(EventVoteRecorded, SeverityDebug, component, payload)
	if err != nil {
		return err
	}
	event.SubmissionID = payload.SubmissionID
	event.InstanceName = payload.InstanceName
	event.AgentID = payload.ValidatorID
	return e.Emit(event)
}

// EmitRewardSettled emits a reward settlement event
func (e *Emitter) EmitRewardSettled(component string, payload *SettlementEventPayload) error {
	severity := SeverityInfo
	if payload.Degraded {
		severity = SeverityWarning
	}
	event, err := NewEvent(EventRewardSettled, severity, component, payload)
	if err != nil {
		return err
	}
	event.SubmissionID = payload.SubmissionID
	event.InstanceName = payload.InstanceName
	return e.Emit(event)
}

// EmitBestSolutionPromoted emits a best-solution promotion event
func (e *Emitter) EmitBestSolutionPromoted(component string, payload *BestSolutionEventPayload) error {
	event, err := NewEvent(EventBestSolutionPromoted, SeverityInfo, component, payload)
	if err != nil {
		return err
	}
	event.SubmissionID = payload.SubmissionID
	event.InstanceName = payload.InstanceName
	return e.Emit(event)
}

// EmitInstanceDeactivated emits an instance deactivation event
func (e *Emitter) EmitInstanceDeactivated(component, instanceName string) error {
	event, err := NewEvent(EventInstanceDeactivated, SeverityInfo, component, map[string]string{
		"instance_name": instanceName,
	})
	if err != nil {
		return err
	}
	event.InstanceName = instanceName
	return e.Emit(event)
}
