package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"talkie/pkg/logger"
	"talkie/pkg/models"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 60 * time.Second
	maxFrameSize    = 1 << 20
)

// Frame is the wire shape of every socket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Options configures a websocket transport.
type Options struct {
	URL   string
	Token string
	// PingEvery defaults to 9/10 of PongWait.
	PingEvery time.Duration
	PongWait  time.Duration
	// TypingRPS/TypingBurst throttle emitted typing events so a fast
	// typist does not flood the socket.
	TypingRPS   float64
	TypingBurst int
}

// Conn is a gorilla/websocket implementation of Transport with separate
// read and write pumps.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	mu       sync.RWMutex
	handlers map[string][]Handler

	send chan []byte
	stop chan struct{}
	once sync.Once

	typingLimiter *rate.Limiter
}

// Dial connects to the socket endpoint and starts the pumps.
func Dial(opts Options) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime %s: %w", opts.URL, err)
	}
	if opts.PongWait == 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.PingEvery == 0 {
		opts.PingEvery = opts.PongWait * 9 / 10
	}
	rps := opts.TypingRPS
	if rps <= 0 {
		rps = 1
	}
	burst := opts.TypingBurst
	if burst <= 0 {
		burst = 3
	}
	c := &Conn{
		ws:            ws,
		opts:          opts,
		handlers:      make(map[string][]Handler),
		send:          make(chan []byte, 256),
		stop:          make(chan struct{}),
		typingLimiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Conn) Subscribe(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.mu.Unlock()
}

func (c *Conn) Publish(event string, v any) error {
	if event == models.EvEmitTyping && !c.typingLimiter.Allow() {
		// typing is best-effort; dropping an over-rate signal is fine
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	select {
	case <-c.stop:
		return fmt.Errorf("publish %s: transport closed", event)
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.stop:
		return fmt.Errorf("publish %s: transport closed", event)
	}
}

func (c *Conn) Join(conversation, user string) error {
	return c.Publish(models.EvJoin, models.JoinEvent{Conversation: conversation, User: user})
}

func (c *Conn) Leave(conversation, user string) error {
	return c.Publish(models.EvLeave, models.JoinEvent{Conversation: conversation, User: user})
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.stop) })
	return c.ws.Close()
}

func (c *Conn) readPump() {
	defer c.Close()
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error("realtime_read_failed", "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Warn("realtime_bad_frame", "error", err)
			continue
		}
		c.mu.RLock()
		hs := c.handlers[f.Event]
		c.mu.RUnlock()
		for _, h := range hs {
			h(f.Data)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingEvery)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Error("realtime_write_failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.stop:
			return
		}
	}
}
