package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HammerMeetNail/globenis/internal/metrics"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamReadLimit  = 512
)

// The default origin check admits native clients, which send no Origin, and
// same-host browsers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// snapshotSource is satisfied by services.Subscription.
type snapshotSource[T any] interface {
	Updates() <-chan T
	Err() error
	Close()
}

type StreamEvent[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// serveSnapshots upgrades the request and pushes every snapshot from sub as a
// {"type":"snapshot"} frame. The subscription is closed when the client goes
// away or the subscription ends, whichever comes first.
func serveSnapshots[T any](w http.ResponseWriter, r *http.Request, kind string, sub snapshotSource[T]) {
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		return
	}
	defer conn.Close()

	metrics.ActiveStreams.WithLabelValues(kind).Inc()
	defer metrics.ActiveStreams.WithLabelValues(kind).Dec()

	// Clients only send control frames; reading keeps pongs and the close
	// handshake flowing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(streamReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case snapshot, ok := <-sub.Updates():
			if !ok {
				closeStream(conn, kind, sub.Err())
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(StreamEvent[T]{Type: "snapshot", Data: snapshot}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func closeStream(conn *websocket.Conn, kind string, err error) {
	code, text := websocket.CloseNormalClosure, ""
	if err != nil {
		log.Printf("Stream %s ended: %v", kind, err)
		code, text = websocket.CloseInternalServerErr, "stream unavailable"
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(streamWriteWait))
}
