package signaling

import (
	"encoding/json"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
)

// relayPeer is one WebSocket connection in a relay session. readPump and
// writePump mirror the usual gorilla two-goroutine shape; the send channel
// is bounded and a peer that cannot drain it is dropped rather than letting
// it stall the session (the slowest-peer backpressure policy).
type relayPeer struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	session *relaySession

	closeOnce gosync.Once
}

func (p *relayPeer) enqueueFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Marshalling relay frame failed", "error", err)
		return
	}
	select {
	case p.send <- data:
	default:
		slog.Warn("Dropping slow relay peer", "session", p.session.id, "peer", p.id)
		p.close()
	}
}

func (p *relayPeer) close() {
	p.closeOnce.Do(func() {
		close(p.send)
		p.session.leave(p)
	})
}

func (p *relayPeer) readPump() {
	defer func() {
		p.close()
		p.conn.Close()
	}()

	_ = p.conn.SetReadDeadline(time.Now().Add(peerPongTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(peerPongTimeout))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Relay read error", "peer", p.id, "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Discarding malformed relay frame", "peer", p.id, "error", err)
			continue
		}
		switch frame.Type {
		case FrameData:
			p.session.forward(p, frame)
		case FrameHello:
			p.session.setICEServers(p, frame.ICEServers)
		default:
			slog.Warn("Discarding unexpected relay frame", "peer", p.id, "type", frame.Type)
		}
	}
}

func (p *relayPeer) writePump() {
	ticker := time.NewTicker(peerPingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			if !ok {
				_ = p.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(peerWriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(peerWriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
