// Realtime push channel. A subscriber receives the full snapshot on
// connect, then the monitor's event stream. A few operator requests are
// accepted inbound.

package reporter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/monitor"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = 45 * time.Second

	// inbound request types
	wsReqAcknowledge = "acknowledge-alert"
	wsReqResolve     = "resolve-alert"
	wsReqHistorical  = "request-historical"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the reporter is an internal surface; origin policy belongs to the
	// proxy in front of it
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsRequest struct {
	Type    string `json:"type"`
	AlertID string `json:"alert_id,omitempty"`
	By      string `json:"by,omitempty"`
	Note    string `json:"note,omitempty"`
	Kind    string `json:"kind,omitempty"`
	From    int64  `json:"from,omitempty"`
	To      int64  `json:"to,omitempty"`
}

type wsReply struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (h *HttpReporter) Websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithField("error", err).Warn("websocket upgrade failed")
		return
	}

	sub := h.mon.Hub().Subscribe()
	defer h.mon.Hub().Unsubscribe(sub)
	defer conn.Close()

	// full snapshot first, incremental events after
	snap, err := h.mon.Snapshot()
	if err != nil {
		logger.WithField("error", err).Error("snapshot for new subscriber failed")
		return
	}
	if err := writeJSON(conn, wsReply{Type: "snapshot", Data: snap}); err != nil {
		return
	}

	// outbound replies from the reader goroutine share the connection
	// with hub events; all writes go through one channel
	replies := make(chan wsReply, 8)
	readerDone := make(chan struct{})
	// stop unblocks the reader when the writer leaves first; the reader
	// must never hang on a reply send to a loop that is gone
	stop := make(chan struct{})
	defer close(stop)
	go h.wsReadLoop(conn, replies, readerDone, stop)

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-readerDone:
			return
		case reply := <-replies:
			if err := writeJSON(conn, reply); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeJSON(conn, wsReply{Type: string(ev.Type), Data: ev.Data}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *HttpReporter) wsReadLoop(conn *websocket.Conn, replies chan<- wsReply, done chan<- struct{}, stop <-chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			if !sendReply(replies, stop, wsReply{Type: "error", Error: "malformed request"}) {
				return
			}
			continue
		}
		if !sendReply(replies, stop, h.handleWsRequest(&req)) {
			return
		}
	}
}

// sendReply delivers a reply to the writer loop unless it has already
// exited. Reports whether the writer is still there.
func sendReply(replies chan<- wsReply, stop <-chan struct{}, reply wsReply) bool {
	select {
	case replies <- reply:
		return true
	case <-stop:
		return false
	}
}

func (h *HttpReporter) handleWsRequest(req *wsRequest) wsReply {
	switch req.Type {
	case wsReqAcknowledge:
		alert, err := h.mon.Acknowledge(req.AlertID)
		if err != nil {
			return wsReply{Type: "error", Error: err.Error()}
		}
		return wsReply{Type: string(monitor.EventAlertUpdated), Data: alert}

	case wsReqResolve:
		alert, err := h.mon.Resolve(req.AlertID, req.By, req.Note)
		if err != nil {
			return wsReply{Type: "error", Error: err.Error()}
		}
		return wsReply{Type: string(monitor.EventAlertUpdated), Data: alert}

	case wsReqHistorical:
		to := req.To
		if to == 0 {
			to = time.Now().UnixMilli()
		}
		points, err := h.st.GetMetricsHistory(req.Kind, req.From, to)
		if err != nil {
			return wsReply{Type: "error", Error: err.Error()}
		}
		return wsReply{Type: "historical", Data: gin.H{"kind": req.Kind, "points": points}}

	default:
		return wsReply{Type: "error", Error: "unknown request type: " + req.Type}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
