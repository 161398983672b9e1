package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-decay/v1/metrics"
)

// SSEHandler streams a key's expiration events over Server-Sent Events.
// The watched key is taken from the "key" query parameter; each event is
// one JSON-encoded data frame.
func SSEHandler[V any](bus Watcher[string, V]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		ch, err := bus.Watch(ctx, key)
		if err != nil {
			cancel()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		metrics.WatcherGauge.Inc()
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), key, ch)
			metrics.WatcherGauge.Dec()
		}()
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-ctx.Done():
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams a key's expiration events over WebSocket.
// The watched key is taken from the "key" query parameter; each event is
// one JSON text message.
func WebSocketHandler[V any](bus Watcher[string, V]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		ch, err := bus.Watch(ctx, key)
		if err != nil {
			cancel()
			return
		}
		metrics.WatcherGauge.Inc()
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), key, ch)
			metrics.WatcherGauge.Dec()
		}()
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
