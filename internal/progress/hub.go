// Package progress рассылает события задач генерации подписчикам по WebSocket.
package progress

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storyforge/internal/jobs"
	"storyforge/internal/model"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время ожидания следующего pong от клиента.
	pongWait = 60 * time.Second
	// Период пингов, меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения от клиента.
	maxMessageSize = 512
	// Размер очереди отправки одного клиента.
	sendBuffer = 64
)

// Message - сообщение, отправляемое подписчику.
type Message struct {
	Type     string             `json:"type"`
	TaskID   uuid.UUID          `json:"task_id"`
	Status   jobs.Status        `json:"status"`
	Progress int                `json:"progress"`
	Message  string             `json:"message,omitempty"`
	Error    string             `json:"error,omitempty"`
	Scene    *model.Scene       `json:"scene,omitempty"`
	Result   *model.StoryResult `json:"result,omitempty"`
}

// TypeSnapshot - первое сообщение после подключения: текущее состояние задачи.
const TypeSnapshot = "snapshot"

func newMessage(typ string, job jobs.Job, scene *model.Scene) Message {
	return Message{
		Type:     typ,
		TaskID:   job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.Message,
		Error:    job.Error,
		Scene:    scene,
		Result:   job.Result,
	}
}

// Client - одно WebSocket соединение, подписанное на задачу.
type Client struct {
	JobID uuid.UUID
	Conn  *websocket.Conn
	send  chan []byte
}

// Hub хранит подписчиков по id задачи.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHub создает и запускает Hub.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("ProgressHub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	h.logger.Info("Progress hub started")
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			subs, ok := h.clients[c.JobID]
			if !ok {
				subs = make(map[*Client]struct{})
				h.clients[c.JobID] = subs
			}
			subs[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("Subscriber registered", zap.String("task_id", c.JobID.String()))

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for _, subs := range h.clients {
				for c := range subs {
					h.remove(c)
				}
			}
			h.mu.Unlock()
			h.logger.Info("Progress hub stopped")
			return
		}
	}
}

// remove вызывается под h.mu. Повторный вызов для того же клиента ничего не делает.
func (h *Hub) remove(c *Client) {
	subs, ok := h.clients[c.JobID]
	if !ok {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	close(c.send)
	if len(subs) == 0 {
		delete(h.clients, c.JobID)
	}
}

// Close останавливает Hub и закрывает все подписки.
func (h *Hub) Close() {
	close(h.done)
}

// Subscribers возвращает общее число подписчиков.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.clients {
		n += len(subs)
	}
	return n
}

// Notify рассылает событие задачи ее подписчикам. После конечного статуса подписки закрываются.
func (h *Hub) Notify(ev jobs.Event) {
	data, err := json.Marshal(newMessage(ev.Type, ev.Job, ev.Scene))
	if err != nil {
		h.logger.Error("Failed to marshal progress message", zap.Error(err))
		return
	}

	final := ev.Scene == nil && ev.Job.Status.Finished()
	if final {
		h.mu.Lock()
		defer h.mu.Unlock()
	} else {
		h.mu.RLock()
		defer h.mu.RUnlock()
	}

	for c := range h.clients[ev.Job.ID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Subscriber queue is full, dropping message",
				zap.String("task_id", ev.Job.ID.String()), zap.String("type", ev.Type))
		}
		if final {
			h.remove(c)
		}
	}
}

// Serve переводит соединение в WebSocket и подписывает его на задачу job.
// Первым сообщением отправляется текущее состояние задачи.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, job jobs.Job) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		return err
	}
	log := h.logger.With(zap.String("task_id", job.ID.String()))
	log.Info("WebSocket connection established")

	snapshot, _ := json.Marshal(newMessage(TypeSnapshot, job, nil))
	c := &Client{JobID: job.ID, Conn: conn, send: make(chan []byte, sendBuffer)}
	c.send <- snapshot

	if job.Status.Finished() {
		close(c.send)
	} else {
		select {
		case h.register <- c:
		case <-h.done:
			close(c.send)
		}
	}

	go c.writePump(log)
	go c.readPump(h, log)
	return nil
}

func (c *Client) readPump(h *Hub, log *zap.Logger) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.Conn.Close()
		log.Debug("readPump finished")
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		// Входящие сообщения игнорируются
	}
}

func (c *Client) writePump(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		log.Debug("writePump finished")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

var _ jobs.Notifier = (*Hub)(nil)
