package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// handleVideo relays the live feed as a multipart MJPEG stream.
func (r *router) handleVideo(w http.ResponseWriter, req *http.Request) {
	rc := http.NewResponseController(w)
	sub := r.Frames.Subscribe()
	defer r.Frames.Unsubscribe(sub)
	StreamClients.WithLabelValues("mjpeg").Inc()
	defer StreamClients.WithLabelValues("mjpeg").Dec()

	w.Header().Set("content-type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("cache-control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// handleVideoWS relays the live feed as binary websocket messages, one JPEG
// per message.
func (r *router) handleVideoWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.Logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	sub := r.Frames.Subscribe()
	defer r.Frames.Unsubscribe(sub)
	StreamClients.WithLabelValues("websocket").Inc()
	defer StreamClients.WithLabelValues("websocket").Dec()

	// viewers never send anything useful; reading keeps pongs and close
	// frames flowing
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-sub.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
