package smartconnect

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	RootURI           = "wss://smartapisocket.angelone.in/smart-stream"
	HeartBeatMessage  = "ping"
	HeartBeatInterval = 10 * time.Second
)

// Subscription actions, modes and exchange types.
const (
	SubscribeAction   = 1
	UnsubscribeAction = 0

	ModeLTP = 1

	NSE_CM = 1
	NSE_FO = 2
	BSE_CM = 3
	BSE_FO = 4
	MCX_FO = 5
	NCX_FO = 7
	CDE_FO = 13
)

// ltpPacketLen is the size of an LTP-mode binary packet.
const ltpPacketLen = 51

// ExchangeType maps an exchange segment name to its stream code.
func ExchangeType(exchange string) (int, bool) {
	switch exchange {
	case "NSE":
		return NSE_CM, true
	case "NFO":
		return NSE_FO, true
	case "BSE":
		return BSE_CM, true
	case "BFO":
		return BSE_FO, true
	case "MCX":
		return MCX_FO, true
	case "NCX":
		return NCX_FO, true
	case "CDS":
		return CDE_FO, true
	}
	return 0, false
}

// TokenListEntry represents exchangeType + tokens for subscribe/unsubscribe.
type TokenListEntry struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

type subscribeRequest struct {
	CorrelationID string `json:"correlationID,omitempty"`
	Action        int    `json:"action"`
	Params        struct {
		Mode      int              `json:"mode"`
		TokenList []TokenListEntry `json:"tokenList"`
	} `json:"params"`
}

// Tick is one parsed LTP packet.
type Tick struct {
	ExchangeType int
	Token        string
	Sequence     int64
	ExchangeTime time.Time
	LTP          float64 // rupees
}

// ParseLTP decodes the common header of a binary stream packet. Prices on
// the wire are in paise.
func ParseLTP(b []byte) (Tick, error) {
	if len(b) < ltpPacketLen {
		return Tick{}, fmt.Errorf("binary payload too short: %d bytes", len(b))
	}
	return Tick{
		ExchangeType: int(b[1]),
		Token:        parseTokenValue(b[2:27]),
		Sequence:     int64(binary.LittleEndian.Uint64(b[27:35])),
		ExchangeTime: time.UnixMilli(int64(binary.LittleEndian.Uint64(b[35:43]))),
		LTP:          float64(int64(binary.LittleEndian.Uint64(b[43:51]))) / 100,
	}, nil
}

func parseTokenValue(b []byte) string {
	for i := 0; i < len(b); i++ {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// StreamConfig holds the feed credentials and reconnect policy.
type StreamConfig struct {
	URL        string // default RootURI
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	Heartbeat       time.Duration // default HeartBeatInterval
	MaxRetries      int           // consecutive failed dials before Run gives up; default 5
	RetryDelay      time.Duration // default 2s
	RetryMultiplier int           // exponential backoff base; 1 means fixed delay
}

// Stream is a SmartWebSocketV2 client subscribed in LTP mode. It keeps the
// subscription set across reconnects and reports every price packet to
// OnTick.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	subs map[int][]string // exchangeType -> tokens
	conn *websocket.Conn

	writeMu sync.Mutex

	// OnTick is called from the read goroutine for every price packet.
	OnTick func(Tick)
	// OnState is called with true after each successful connect and false
	// when the connection drops.
	OnState func(connected bool)
}

func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.AuthToken == "" || cfg.APIKey == "" || cfg.ClientCode == "" || cfg.FeedToken == "" {
		return nil, errors.New("provide valid value for all the tokens")
	}
	if cfg.URL == "" {
		cfg.URL = RootURI
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = HeartBeatInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RetryMultiplier < 1 {
		cfg.RetryMultiplier = 2
	}
	return &Stream{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		subs:   make(map[int][]string),
	}, nil
}

// Subscribe adds tokens to the LTP subscription. Tokens are sent now when
// connected and re-sent after every reconnect.
func (s *Stream) Subscribe(exchangeType int, tokens ...string) error {
	s.mu.Lock()
	s.subs[exchangeType] = appendUnique(s.subs[exchangeType], tokens...)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.send(conn, SubscribeAction, []TokenListEntry{{ExchangeType: exchangeType, Tokens: tokens}})
}

func appendUnique(dst []string, add ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, t := range dst {
		seen[t] = struct{}{}
	}
	for _, t := range add {
		if _, ok := seen[t]; !ok {
			dst = append(dst, t)
			seen[t] = struct{}{}
		}
	}
	return dst
}

func (s *Stream) send(conn *websocket.Conn, action int, tokens []TokenListEntry) error {
	var req subscribeRequest
	req.Action = action
	req.Params.Mode = ModeLTP
	req.Params.TokenList = tokens

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(req)
}

func (s *Stream) resubscribe(conn *websocket.Conn) error {
	s.mu.Lock()
	var list []TokenListEntry
	for ex, toks := range s.subs {
		list = append(list, TokenListEntry{ExchangeType: ex, Tokens: append([]string(nil), toks...)})
	}
	s.mu.Unlock()
	if len(list) == 0 {
		return nil
	}
	return s.send(conn, SubscribeAction, list)
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff. It gives up after MaxRetries consecutive failed
// connects and returns the last error.
func (s *Stream) Run(ctx context.Context) error {
	failures := 0
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			failures = 0
		}
		failures++
		if failures > s.cfg.MaxRetries {
			return fmt.Errorf("stream: giving up after %d attempts: %w", failures-1, err)
		}

		delay := s.cfg.RetryDelay
		for i := 1; i < failures; i++ {
			delay *= time.Duration(s.cfg.RetryMultiplier)
		}
		log.Printf("[smartconnect] stream dropped (%v), reconnecting in %s", err, delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session runs one connection. connected reports whether the dial
// succeeded.
func (s *Stream) session(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	header.Add("Authorization", s.cfg.AuthToken)
	header.Add("x-api-key", s.cfg.APIKey)
	header.Add("x-client-code", s.cfg.ClientCode)
	header.Add("x-feed-token", s.cfg.FeedToken)

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %s: %w", resp.Status, err)
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	if s.OnState != nil {
		s.OnState(true)
	}

	sctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		if s.OnState != nil {
			s.OnState(false)
		}
	}()

	if err := s.resubscribe(conn); err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}

	go s.heartbeat(sctx, conn)
	go func() {
		<-sctx.Done()
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		conn.Close()
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		switch mt {
		case websocket.BinaryMessage:
			tick, perr := ParseLTP(message)
			if perr != nil {
				log.Printf("[smartconnect] parse error: %v", perr)
				continue
			}
			if s.OnTick != nil {
				s.OnTick(tick)
			}
		case websocket.TextMessage:
			if string(message) != "pong" {
				log.Printf("[smartconnect] control message: %s", message)
			}
		}
	}
}

// heartbeat sends the text ping the feed expects.
func (s *Stream) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte(HeartBeatMessage))
			s.writeMu.Unlock()
			if err != nil {
				log.Printf("[smartconnect] ping write error: %v", err)
				conn.Close()
				return
			}
		}
	}
}
