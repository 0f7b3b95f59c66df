// talkie-sim is a local development backend: just enough of the REST API
// and the realtime contract to run the client end to end without the real
// service. State is in-memory and single-process.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"talkie/pkg/logger"
	"talkie/pkg/models"
	"talkie/pkg/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	user string
	conv string
	send chan []byte
}

func (c *client) push(event string, v any) {
	data, _ := json.Marshal(v)
	frame, _ := json.Marshal(realtime.Frame{Event: event, Data: data})
	select {
	case c.send <- frame:
	default:
		// slow consumer; drop
	}
}

type sim struct {
	mu      sync.Mutex
	seq     int
	msgs    map[string][]*models.Message // by conversation
	clients map[*client]struct{}
}

func newSim() *sim {
	return &sim{msgs: make(map[string][]*models.Message), clients: make(map[*client]struct{})}
}

func (s *sim) nextID() string {
	s.seq++
	return fmt.Sprintf("m%d", s.seq)
}

func (s *sim) find(msgID string) (*models.Message, string) {
	for conv, list := range s.msgs {
		for _, m := range list {
			if m.ID == msgID {
				return m, conv
			}
		}
	}
	return nil, ""
}

// broadcast pushes an event to every client joined to conv, except skip.
func (s *sim) broadcast(conv string, skip *client, event string, v any) {
	for c := range s.clients {
		if c.conv == conv && c != skip {
			c.push(event, v)
		}
	}
}

func (s *sim) handleHistory(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	s.mu.Lock()
	list := s.msgs[conv]
	out := make([]models.Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *sim) handleSend(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m := &models.Message{
		Conversation: conv,
		TempID:       r.FormValue("temp_id"),
		Text:         r.FormValue("text"),
		ReplyTo:      r.FormValue("reply_to"),
		Sender:       r.Header.Get("X-User-ID"),
		TS:           time.Now().UTC().UnixNano(),
	}
	if _, fh, err := r.FormFile("media"); err == nil {
		m.Media = &models.MediaRef{URL: "/media/" + fh.Filename, Name: fh.Filename, Size: fh.Size}
	}
	if _, fh, err := r.FormFile("voice"); err == nil {
		m.Voice = &models.VoiceRef{URL: "/voice/" + fh.Filename, Size: fh.Size}
	}
	s.mu.Lock()
	m.ID = s.nextID()
	s.msgs[conv] = append(s.msgs[conv], m)
	s.broadcast(conv, nil, models.EvNewMessage, m)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m)
}

func (s *sim) handleSeen(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["id"]
	var in struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user := r.Header.Get("X-User-ID")
	s.mu.Lock()
	for _, id := range in.MessageIDs {
		if m, _ := s.find(id); m != nil {
			if m.ReadBy == nil {
				m.ReadBy = make(map[string]bool)
			}
			m.ReadBy[user] = true
		}
	}
	s.broadcast(conv, nil, models.EvSeenUpdate, models.BatchReceiptEvent{
		MessageIDs: in.MessageIDs, Conversation: conv, User: user,
	})
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(in)
}

func (s *sim) handleReact(w http.ResponseWriter, r *http.Request) {
	msgID := mux.Vars(r)["id"]
	var in struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user := r.Header.Get("X-User-ID")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, conv := s.find(msgID)
	if m == nil {
		http.Error(w, "unknown message", http.StatusNotFound)
		return
	}
	if i := m.FindReaction(user, in.Emoji); i >= 0 {
		m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
	} else {
		m.Reactions = append(m.Reactions, models.Reaction{User: user, Emoji: in.Emoji})
	}
	s.broadcast(conv, nil, models.EvReacted, models.ReactedEvent{
		MessageID: msgID, Conversation: conv, Reactions: m.Reactions,
	})
	w.WriteHeader(http.StatusOK)
}

func (s *sim) handleDelete(w http.ResponseWriter, r *http.Request) {
	msgID := mux.Vars(r)["id"]
	forEveryone := r.URL.Query().Get("scope") == "everyone"
	s.mu.Lock()
	defer s.mu.Unlock()
	m, conv := s.find(msgID)
	if m == nil {
		http.Error(w, "unknown message", http.StatusNotFound)
		return
	}
	if forEveryone {
		m.Deleted = true
		m.ClearContent()
		s.broadcast(conv, nil, models.EvDeleted, models.DeleteEvent{
			MessageID: msgID, Conversation: conv, ForEveryone: true,
		})
	}
	w.WriteHeader(http.StatusOK)
}

func (s *sim) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	go s.writePump(c)
	s.readPump(c)
}

func (s *sim) writePump(c *client) {
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

func (s *sim) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(c.send)
		_ = c.conn.Close()
	}()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f realtime.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		s.dispatch(c, f)
	}
}

func (s *sim) dispatch(c *client, f realtime.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch f.Event {
	case models.EvJoin:
		var ev models.JoinEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			c.conv = ev.Conversation
			c.user = ev.User
		}
	case models.EvLeave:
		c.conv = ""
	case models.EvEmitTyping:
		var ev models.TypingEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			s.broadcast(ev.Conversation, c, models.EvTyping, ev)
		}
	case models.EvEmitStop:
		var ev models.TypingEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			s.broadcast(ev.Conversation, c, models.EvStopTyping, ev)
		}
	case models.EvAckDeliver:
		var ev models.ReceiptEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			if m, _ := s.find(ev.MessageID); m != nil {
				if m.DeliveredTo == nil {
					m.DeliveredTo = make(map[string]bool)
				}
				m.DeliveredTo[ev.User] = true
			}
			s.broadcast(ev.Conversation, c, models.EvDelivered, ev)
		}
	case models.EvAckSeen:
		var ev models.BatchReceiptEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			for _, id := range ev.MessageIDs {
				if m, _ := s.find(id); m != nil {
					if m.ReadBy == nil {
						m.ReadBy = make(map[string]bool)
					}
					m.ReadBy[ev.User] = true
				}
			}
			s.broadcast(ev.Conversation, c, models.EvSeenUpdate, ev)
		}
	case models.EvEmitDelete:
		var ev models.DeleteEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			if m, _ := s.find(ev.MessageID); m != nil && ev.ForEveryone {
				m.Deleted = true
				m.ClearContent()
			}
			s.broadcast(ev.Conversation, c, models.EvDeleted, ev)
		}
	case models.EvEmitReact:
		var ev models.ReactEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			s.broadcast(ev.Conversation, c, models.EvReact, ev)
		}
	}
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()
	logger.Init()

	s := newSim()
	r := mux.NewRouter()
	r.HandleFunc("/v1/conversations/{id}/messages", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}/messages", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{id}/seen", s.handleSeen).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages/{id}/reactions", s.handleReact).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/ws", s.handleWS)

	logger.Info("sim_listening", "addr", *addr)
	log.Fatal(http.ListenAndServe(*addr, r))
}
