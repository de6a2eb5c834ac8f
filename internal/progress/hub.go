package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"ecovision-go/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Сколько держим состояние завершенного запуска для поздних подписчиков
	finishedRetention = 10 * time.Minute
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	writeWait         = 5 * time.Second
	// Очередь исходящих сообщений одного подписчика
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client подписчик на один запуск. Пишет в соединение только его writePump,
// поэтому медленный подписчик не задерживает остальных.
type client struct {
	runID string
	conn  *websocket.Conn
	send  chan []byte
}

type snapshot struct {
	progress models.Progress
	at       time.Time
}

// Hub рассылает ход обработки видео подписчикам websocket по ID запуска
type Hub struct {
	clients    map[string]map[*client]bool
	last       map[string]snapshot
	broadcast  chan models.Progress
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

// NewHub создает хаб прогресса
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		last:       make(map[string]snapshot),
		broadcast:  make(chan models.Progress, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run обслуживает подписки до отмены контекста.
// Каналы send подписчиков закрывает только этот цикл.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mutex.Lock()
			if h.clients[c.runID] == nil {
				h.clients[c.runID] = make(map[*client]bool)
			}
			h.clients[c.runID][c] = true
			snap, ok := h.last[c.runID]
			h.mutex.Unlock()
			h.logger.Debugf("Подписчик на запуск %s подключен", c.runID)

			// Новый подписчик сразу получает текущее состояние
			if ok {
				h.enqueue(c, snap.progress)
			}

		case c := <-h.unregister:
			h.drop(c)
			h.logger.Debugf("Подписчик на запуск %s отключен", c.runID)

		case pr := <-h.broadcast:
			h.mutex.Lock()
			h.last[pr.RunID] = snapshot{progress: pr, at: time.Now()}
			targets := make([]*client, 0, len(h.clients[pr.RunID]))
			for c := range h.clients[pr.RunID] {
				targets = append(targets, c)
			}
			h.mutex.Unlock()

			for _, c := range targets {
				h.enqueue(c, pr)
			}

		case now := <-ticker.C:
			h.prune(now)
		}
	}
}

// Publish ставит состояние в очередь рассылки. При переполненной очереди
// промежуточное состояние отбрасывается, финальное ждет места.
func (h *Hub) Publish(pr models.Progress) {
	if pr.Done {
		select {
		case h.broadcast <- pr:
		case <-h.done:
		}
		return
	}
	select {
	case h.broadcast <- pr:
	default:
		h.logger.Warnf("Очередь прогресса переполнена, пропускаем обновление запуска %s", pr.RunID)
	}
}

// Serve переводит запрос в websocket и держит подписку на запуск runID
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Ошибка upgrade websocket: %v", err)
		return
	}
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c := &client{runID: runID, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(c)
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	// Клиент ничего не шлет, читаем только чтобы заметить отключение
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount возвращает число подписчиков запуска
func (h *Hub) ClientCount(runID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[runID])
}

// writePump пишет сообщения подписчика и пинги до закрытия канала send
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Warnf("Ошибка отправки прогресса запуска %s: %v", c.runID, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue не блокирует цикл Run: подписчик с полной очередью отключается
func (h *Hub) enqueue(c *client, pr models.Progress) {
	payload, err := json.Marshal(pr)
	if err != nil {
		h.logger.Errorf("Ошибка сериализации прогресса: %v", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		h.logger.Warnf("Подписчик на запуск %s не успевает читать, отключаем", c.runID)
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c.runID][c]; ok {
		delete(h.clients[c.runID], c)
		close(c.send)
	}
	if len(h.clients[c.runID]) == 0 {
		delete(h.clients, c.runID)
	}
}

func (h *Hub) prune(now time.Time) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for runID, snap := range h.last {
		if snap.progress.Done && now.Sub(snap.at) > finishedRetention {
			delete(h.last, runID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for runID, clients := range h.clients {
		for c := range clients {
			close(c.send)
		}
		delete(h.clients, runID)
	}
}
