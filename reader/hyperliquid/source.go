package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"l4book/internal/metrics"
	"l4book/logger"
	"l4book/models"
)

const (
	defaultPingInterval     = 20 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

// Config describes one L4 book subscription.
type Config struct {
	URL              string
	Market           string
	LocalIP          string // optional source address
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	ReadLimit        int64
	// Capture, when set, receives every raw L4 message followed by a newline.
	Capture io.Writer
}

// Source is a live websocket subscription to one market's L4 book.
type Source struct {
	cfg  Config
	conn *websocket.Conn
	log  *logger.Entry

	writeMu   sync.Mutex
	stopPing  context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Dial connects, subscribes and starts the keepalive loop.
func Dial(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Market == "" {
		return nil, errors.New("hyperliquid: market is required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	log := logger.GetLogger().WithComponent("hyperliquid_reader").WithMarket(cfg.Market)

	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.LocalIP != "" {
		ip := net.ParseIP(cfg.LocalIP)
		if ip == nil {
			return nil, fmt.Errorf("hyperliquid: invalid local ip %q", cfg.LocalIP)
		}
		dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: dial %s: %w", cfg.URL, err)
	}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	s := &Source{cfg: cfg, conn: conn, log: log}
	if err := s.writeJSON(models.Subscribe(cfg.Market)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hyperliquid: subscribe %s: %w", cfg.Market, err)
	}

	pingCtx, cancel := context.WithCancel(context.Background())
	s.stopPing = cancel
	go s.pingLoop(pingCtx)

	log.WithFields(logger.Fields{"url": cfg.URL, "local_ip": cfg.LocalIP}).Info("subscribed to l4 book")
	return s, nil
}

// Next returns the next L4 frame. Acks, pongs and messages that are not L4
// frames are skipped. An L4 frame that cannot be decoded ends the
// subscription with an error wrapping models.ErrMalformedFrame. Cancelling
// ctx aborts a pending read and poisons the connection.
func (s *Source) Next(ctx context.Context) (models.Frame, error) {
	// net.Conn deadlines may be set from any goroutine.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.UnderlyingConn().SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return models.Frame{}, err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return models.Frame{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return models.Frame{}, io.EOF
			}
			return models.Frame{}, err
		}
		received := time.Now()
		logger.RecordChannelMessage("l4_ws", len(msg))

		frame, ok, err := models.DecodeMessage(msg)
		if err != nil {
			metrics.EmitDropMetric(logger.GetLogger(), metrics.DropMetricUndecodable, s.cfg.Market, "decode")
			if errors.Is(err, models.ErrMalformedFrame) {
				return models.Frame{}, fmt.Errorf("hyperliquid: %s: %w", s.cfg.Market, err)
			}
			s.log.WithError(err).WithField("bytes", len(msg)).Warn("dropping undecodable message")
			continue
		}
		if !ok {
			continue
		}
		if s.cfg.Capture != nil {
			s.capture(msg)
		}
		if frame.Market == "" {
			frame.Market = s.cfg.Market
		}
		frame.ReceivedAt = received
		return frame, nil
	}
}

func (s *Source) capture(msg []byte) {
	line := make([]byte, 0, len(msg)+1)
	line = append(append(line, msg...), '\n')
	if _, err := s.cfg.Capture.Write(line); err != nil {
		s.log.WithError(err).Debug("capture write failed")
	}
}

// Close unsubscribes and closes the connection. It is safe to call more
// than once and after a failed read.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		if s.stopPing != nil {
			s.stopPing()
		}
		_ = s.writeJSON(models.Unsubscribe(s.cfg.Market))
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Source) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// pingLoop sends the application level ping the feed expects. A failed
// write forces the pending read to fail so the subscription is restarted.
func (s *Source) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"method": "ping"}); err != nil {
				s.log.WithError(err).Warn("failed to send websocket ping")
				_ = s.conn.UnderlyingConn().SetReadDeadline(time.Now())
				return
			}
		}
	}
}
