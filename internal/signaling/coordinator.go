package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// defaultPollInterval is how often the coordinator polls the transport
// for queued signals when push delivery is unavailable.
const defaultPollInterval = time.Second

// Handler consumes one typed signaling message. Exactly one handler is
// registered per message type; registering again replaces the previous
// handler.
type Handler func(msg models.SignalMessage)

// JoinInfo is what a successful join returns to the caller.
type JoinInfo struct {
	UserID       string
	Participants int
}

// Coordinator owns the local participant's room identity and converts
// raw transport delivery into typed signaling events, each delivered
// exactly once. Signals sent by this participant or addressed to someone
// else are discarded at this boundary regardless of what the transport
// delivers.
type Coordinator struct {
	transport    Transport
	logger       *slog.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	handlers map[models.SignalType]Handler
	roomID   string
	userID   string
	joined   bool
	cursor   int64
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPollInterval overrides the delivery poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = interval }
}

// NewCoordinator creates a coordinator over the given transport.
func NewCoordinator(transport Transport, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport:    transport,
		logger:       logger,
		pollInterval: defaultPollInterval,
		handlers:     make(map[models.SignalType]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JoinRoom requests membership and starts delivery. Transports that
// implement Subscriber deliver by push; everything else is polled.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID, displayName string) (JoinInfo, error) {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return JoinInfo{}, fmt.Errorf("already joined room %s", c.roomID)
	}
	c.mu.Unlock()

	result, err := c.transport.JoinRoom(ctx, roomID, displayName)
	if err != nil {
		return JoinInfo{}, &NetworkError{Op: "join", Err: err}
	}
	if !result.Success {
		return JoinInfo{}, &JoinError{RoomID: roomID, Reason: result.Error}
	}

	c.mu.Lock()
	c.roomID = roomID
	c.userID = result.UserID
	c.joined = true
	c.cursor = 0
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	if subscriber, ok := c.transport.(Subscriber); ok {
		records, err := subscriber.Subscribe(roomID, result.UserID)
		if err == nil {
			go c.consumePush(records, stop, done)
			c.logger.Debug("signaling delivery started", "mode", "push", "room", roomID, "user", result.UserID)
			return JoinInfo{UserID: result.UserID, Participants: result.Participants}, nil
		}
		c.logger.Warn("subscribe failed, falling back to polling", "error", err)
	}

	go c.pollLoop(stop, done)
	c.logger.Debug("signaling delivery started", "mode", "poll", "room", roomID, "user", result.UserID)
	return JoinInfo{UserID: result.UserID, Participants: result.Participants}, nil
}

// Send constructs a signaling message stamped with the local identity
// and forwards it. receiver empty means broadcast. There is no local
// echo; signaling messages are never self-observed.
func (c *Coordinator) Send(ctx context.Context, signalType models.SignalType, data json.RawMessage, receiver string) error {
	c.mu.Lock()
	roomID, userID, joined := c.roomID, c.userID, c.joined
	c.mu.Unlock()
	if !joined {
		return fmt.Errorf("not joined")
	}

	result, err := c.transport.SendSignal(ctx, roomID, userID, models.SignalBody{
		Type:   signalType,
		Target: receiver,
		Data:   data,
	})
	if err != nil {
		return &NetworkError{Op: "send", Err: err}
	}
	if !result.Success {
		return fmt.Errorf("signal %s rejected: %s", signalType, result.Error)
	}
	return nil
}

// On registers the handler for a message type. Last registration wins.
func (c *Coordinator) On(signalType models.SignalType, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[signalType] = handler
}

// Off removes the handler for a message type.
func (c *Coordinator) Off(signalType models.SignalType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, signalType)
}

// LeaveRoom stops delivery, best-effort announces the departure, leaves
// through the transport, and clears all local state. By the time it
// returns no further handler invocation can happen. Calling it twice is
// a no-op on the second call.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = false
	roomID, userID := c.roomID, c.userID
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done // no in-flight delivery after this point

	if _, err := c.transport.SendSignal(ctx, roomID, userID, models.SignalBody{
		Type: models.SignalTypeUserLeft,
	}); err != nil {
		c.logger.Debug("user-left announcement failed", "error", err)
	}
	if _, err := c.transport.LeaveRoom(ctx, roomID, userID); err != nil {
		c.logger.Warn("transport leave failed", "room", roomID, "error", err)
	}

	c.mu.Lock()
	c.handlers = make(map[models.SignalType]Handler)
	c.cursor = 0
	c.roomID = ""
	c.userID = ""
	c.mu.Unlock()
	return nil
}

// UserID returns the local participant id, empty before join.
func (c *Coordinator) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// RoomID returns the joined room id, empty before join.
func (c *Coordinator) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// RoomStatus fetches the current membership from the transport.
func (c *Coordinator) RoomStatus(ctx context.Context) (models.RoomStatusResult, error) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	result, err := c.transport.GetRoomStatus(ctx, roomID)
	if err != nil {
		return models.RoomStatusResult{}, &NetworkError{Op: "status", Err: err}
	}
	return result, nil
}

func (c *Coordinator) pollLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.pollOnce(stop)
		}
	}
}

func (c *Coordinator) pollOnce(stop chan struct{}) {
	c.mu.Lock()
	roomID, userID, cursor := c.roomID, c.userID, c.cursor
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.pollInterval*4)
	defer cancel()

	result, err := c.transport.GetSignals(ctx, roomID, userID, cursor)
	if err != nil {
		c.logger.Warn("polling signals failed", "error", err)
		return
	}
	if !result.Success {
		c.logger.Warn("signal poll rejected", "error", result.Error)
		return
	}

	select {
	case <-stop:
		// Torn down while the request was in flight; do not dispatch.
		return
	default:
	}
	c.dispatch(result.Signals)
}

func (c *Coordinator) consumePush(records <-chan models.SignalRecord, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case record, ok := <-records:
			if !ok {
				return
			}
			c.dispatch([]models.SignalRecord{record})
		}
	}
}

// dispatch delivers a batch to the registered handlers and then advances
// the cursor to the maximum timestamp seen across the whole batch. The
// batch-max rule means one future-dated message cannot starve cursor
// advancement, at the cost that a message timestamped earlier than an
// already-consumed one from another sender can be skipped under clock
// skew. Our server stamps all signals with a single per-room clock, so
// the skew case only arises with third-party transports.
func (c *Coordinator) dispatch(records []models.SignalRecord) {
	c.mu.Lock()
	roomID, userID, maxTS := c.roomID, c.userID, c.cursor
	c.mu.Unlock()

	for _, record := range records {
		if record.Timestamp > maxTS {
			maxTS = record.Timestamp
		}

		// Boundary filter: never process our own signals or signals
		// addressed to a third party, even if the transport delivers
		// them indiscriminately.
		if record.From == userID {
			continue
		}
		if record.Signal.Target != "" && record.Signal.Target != userID {
			continue
		}

		c.mu.Lock()
		handler := c.handlers[record.Signal.Type]
		c.mu.Unlock()
		if handler == nil {
			c.logger.Debug("no handler for signal", "type", record.Signal.Type, "from", record.From)
			continue
		}

		handler(models.SignalMessage{
			Type:      record.Signal.Type,
			Sender:    record.From,
			Receiver:  record.Signal.Target,
			RoomID:    roomID,
			Data:      record.Signal.Data,
			Timestamp: record.Timestamp,
		})
	}

	c.mu.Lock()
	if maxTS > c.cursor {
		c.cursor = maxTS
	}
	c.mu.Unlock()
}
