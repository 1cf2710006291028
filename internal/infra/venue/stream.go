package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"settle_go/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	maxRetries   = 10
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// priceUpdate is the venue's share price feed message.
type priceUpdate struct {
	Type      string          `json:"type"` // price
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// Stream maintains the WebSocket share price feed from the external venue
// and writes updates into the venue book. It reconnects with exponential
// backoff and survives stale connections through read deadlines.
type Stream struct {
	url     string
	assets  []string
	venue   *Venue
	metrics *infra.Metrics

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewStream creates a price stream for the given assets.
func NewStream(url string, assets []string, v *Venue, metrics *infra.Metrics) *Stream {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Stream{url: url, assets: assets, venue: v, metrics: metrics}
}

// Connect starts the WebSocket connection loop.
func (s *Stream) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
	return nil
}

func (s *Stream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			slog.Warn("venue stream connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			s.readLoop(ctx)
		}
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.metrics.SetStreamConnected(true)

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return err
	}

	slog.Info("venue stream connected", slog.Int("subs", len(s.assets)))
	return nil
}

func (s *Stream) subscribe() error {
	msg := map[string]interface{}{
		"op":     "subscribe",
		"topic":  "price",
		"assets": s.assets,
	}
	b, _ := json.Marshal(msg)
	return s.threadSafeWrite(websocket.TextMessage, b)
}

func (s *Stream) threadSafeWrite(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return fmt.Errorf("no conn")
	}
	return s.conn.WriteMessage(msgType, data)
}

func (s *Stream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		if s.conn == nil {
			s.mu.RUnlock()
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.mu.RUnlock()

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.closeConnection()
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Stream) handleMessage(msg []byte) {
	var update priceUpdate
	if json.Unmarshal(msg, &update) != nil || update.Type != "price" {
		return
	}
	if err := s.venue.SetPrice(update.Asset, update.Price); err != nil {
		slog.Warn("price update dropped", slog.String("asset", update.Asset), slog.Any("error", err))
		s.metrics.RecordError()
	}
}

func (s *Stream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.metrics.SetStreamConnected(false)
}

// Disconnect stops the stream and waits for the connection loop to exit.
func (s *Stream) Disconnect() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}
