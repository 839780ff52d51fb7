// cmd/stock-push-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"stockpile/internal/pkg/bootstrap"
	"stockpile/internal/pkg/logger"
	"stockpile/internal/pkg/mq"
	"stockpile/internal/service/inventory/domain"
)

const (
	serviceName   = "stock-push-gateway"
	consumerGroup = "stock-push-gateway"
)

var (
	nodeID   = serviceName + "-" + uuid.New().String()[:8]
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
			return true
		},
	}
)

// Hub 维护所有活跃的连接，按订阅的商品分组广播库存事件
type Hub struct {
	clients    map[int64]map[*Client]bool // 商品ID -> 订阅它的连接
	register   chan *Client
	unregister chan *Client
	broadcast  chan *domain.StockEvent
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *domain.StockEvent, 64),
	}
}

func (h *Hub) run(ctx context.Context) error {
	for {
		select {
		case client := <-h.register:
			if h.clients[client.productID] == nil {
				h.clients[client.productID] = make(map[*Client]bool)
			}
			h.clients[client.productID][client] = true
			logger.Logger.Info().
				Int64("product_id", client.productID).
				Msgf("client subscribed on node %s", nodeID)
		case client := <-h.unregister:
			if subs, ok := h.clients[client.productID]; ok && subs[client] {
				delete(subs, client)
				close(client.send)
				if len(subs) == 0 {
					delete(h.clients, client.productID)
				}
			}
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			for client := range h.clients[event.ProductID] {
				select {
				case client.send <- data:
				default:
					// 写不进去说明客户端太慢，丢弃这条消息而不是阻塞整个 Hub
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Client 是一个订阅了单个商品的 WebSocket 连接
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	productID int64
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	// 只读心跳，任何读错误都视为连接断开
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("productId"), 10, 64)
	if err != nil {
		http.Error(w, "productId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), productID: productID}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// consumeStockEvents 从 Kafka 读取库存事件并交给 Hub 广播
func consumeStockEvents(ctx context.Context, hub *Hub) error {
	cfg := bootstrap.GetCurrentConfig()
	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.StockEventsTopic, consumerGroup)
	defer reader.Close()

	logger.Logger.Info().
		Str("topic", cfg.Infra.Kafka.StockEventsTopic).
		Msg("stock event consumer started")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Logger.Error().Err(err).Msg("could not read message, retrying")
			time.Sleep(time.Second)
			continue
		}

		var event domain.StockEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Logger.Error().Err(err).Msg("failed to unmarshal stock event, skipping")
		} else {
			hub.broadcast <- &event
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Logger.Error().Err(err).Msg("failed to commit messages")
		}
	}
}

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			hub := newHub()

			g, ctx := errgroup.WithContext(context.Background())
			g.Go(func() error { return hub.run(ctx) })
			g.Go(func() error { return consumeStockEvents(ctx, hub) })
			go func() {
				if err := g.Wait(); err != nil && err != context.Canceled {
					logger.Logger.Error().Err(err).Msg("push gateway background workers stopped")
				}
			}()

			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, w, r)
			})
		},
	})
}
