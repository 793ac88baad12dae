package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 20 * time.Second
)

// StatusUpdate is one live-room state change seen on the stream.
type StatusUpdate struct {
	RoomID string
	Live   bool
	Title  string
	Time   time.Time
}

// LiveStream keeps one websocket to the broadcast gateway and fans room
// status changes out to a channel. Subscriptions survive reconnects.
type LiveStream struct {
	url    string
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopChan chan struct{}

	subsMu      sync.RWMutex
	activeRooms []string
}

func NewLiveStream(url string, logger *slog.Logger) *LiveStream {
	return &LiveStream{
		url:      url,
		logger:   logger.With("component", "live_stream"),
		stopChan: make(chan struct{}),
	}
}

// Subscribe stores the initial room set and starts the connection loop. The
// returned channel is buffered; a slow consumer drops stale updates rather
// than blocking the reader.
func (s *LiveStream) Subscribe(rooms []string) (<-chan StatusUpdate, error) {
	out := make(chan StatusUpdate, 100)

	s.subsMu.Lock()
	s.activeRooms = rooms
	s.subsMu.Unlock()

	go s.maintainConnection(out)

	return out, nil
}

// AddSubscriptions subscribes additional rooms without dropping the link.
func (s *LiveStream) AddSubscriptions(rooms []string) error {
	s.subsMu.Lock()
	var added []string
	for _, room := range rooms {
		known := false
		for _, existing := range s.activeRooms {
			if room == existing {
				known = true
				break
			}
		}
		if !known {
			s.activeRooms = append(s.activeRooms, room)
			added = append(added, room)
		}
	}
	s.subsMu.Unlock()

	if len(added) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.sendSubscribe(added)
	}
	return nil
}

func (s *LiveStream) Close() {
	close(s.stopChan)
}

func (s *LiveStream) maintainConnection(out chan<- StatusUpdate) {
	for {
		select {
		case <-s.stopChan:
			return
		default:
			s.subsMu.RLock()
			rooms := s.activeRooms
			s.subsMu.RUnlock()

			if err := s.connectAndListen(rooms, out); err != nil {
				s.logger.Error("stream connection lost", "err", err)
			}

			s.logger.Info("reconnecting", "delay", reconnectDelay)
			time.Sleep(reconnectDelay)
		}
	}
}

func (s *LiveStream) connectAndListen(rooms []string, out chan<- StatusUpdate) error {
	s.logger.Info("connecting to broadcast gateway", "url", s.url)

	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	if len(rooms) > 0 {
		if err := s.sendSubscribe(rooms); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.heartbeat(ctx)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		var raw map[string]any
		if err := json.Unmarshal(message, &raw); err != nil {
			continue
		}
		// ack frames for ping/subscribe carry an op field
		if _, ok := raw["op"]; ok {
			continue
		}

		var event wsStatusEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if event.Data.RoomID == "" {
			continue
		}

		update := StatusUpdate{
			RoomID: event.Data.RoomID,
			Live:   event.Data.LiveStatus == 1,
			Title:  event.Data.Title,
			Time:   time.Now(),
		}

		select {
		case out <- update:
		default:
			// consumer is behind, drop the stale update
		}
	}
}

func (s *LiveStream) sendSubscribe(rooms []string) error {
	if len(rooms) == 0 {
		return nil
	}

	args := make([]string, len(rooms))
	for i, room := range rooms {
		args[i] = "room." + room
	}

	req := map[string]any{
		"op":   "subscribe",
		"args": args,
	}

	s.logger.Info("subscribing", "topics", args)
	return s.conn.WriteJSON(req)
}

func (s *LiveStream) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != nil {
				if err := s.conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					s.logger.Error("ping failed", "err", err)
				}
			}
			s.mu.Unlock()
		}
	}
}

type wsStatusEvent struct {
	Topic string `json:"topic"`
	Data  struct {
		RoomID     string `json:"room_id"`
		LiveStatus int    `json:"live_status"`
		Title      string `json:"title"`
	} `json:"data"`
}
