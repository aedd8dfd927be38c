// Package wsapi is the WebSocket streaming surface: live peak events on
// /ws, client-fed recorder audio on /ws/recorder/<id>, and server-fed echo
// audio on /ws/echo/<id>.
package wsapi

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/davdef/airlift-node-sub001/internal/flow"
	"github.com/davdef/airlift-node-sub001/internal/node"
	"github.com/davdef/airlift-node-sub001/internal/recorder"
)

// isTimeout reports whether err is a deadline-exceeded write error, the
// transient case a slow-but-recovering client produces.
func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

const writeTimeout = 5 * time.Second

// Handler owns WebSocket transport for peak streaming and recorder sessions.
type Handler struct {
	node     *node.Node
	recorder *recorder.Manager
	upgrader websocket.Upgrader
}

// NewHandler constructs a wsapi Handler bound to node and recorder.
func NewHandler(n *node.Node, rec *recorder.Manager) *Handler {
	return &Handler{
		node:     n,
		recorder: rec,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds WebSocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.handleLivePeaks)
	e.GET("/ws/recorder/:id", h.handleRecorderIngest)
	e.GET("/ws/echo/:id", h.handleEcho)
}

type livePeakEvent struct {
	TimestampMillis int64      `json:"timestamp_ms"`
	Peaks           [2]float32 `json:"peaks"`
	Silence         bool       `json:"silence"`
	Flow            string     `json:"flow"`
}

// handleLivePeaks streams every peak event across all flows, optionally
// filtered to one flow via ?flow=<name>.
func (h *Handler) handleLivePeaks(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("wsapi: upgrade: %w", err)
	}
	defer conn.Close()

	flowFilter := c.QueryParam("flow")
	ch, unsub := h.node.History().Subscribe(flowFilter)
	defer unsub()

	var health flow.ConsumerHealth
	for sample := range ch {
		if health.ShouldSkip() {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteJSON(livePeakEvent{
			TimestampMillis: sample.TSMillis,
			Peaks:           [2]float32{sample.PeakL, sample.PeakR},
			Silence:         sample.Silence,
			Flow:            sample.Flow,
		})
		if err == nil {
			health.RecordSuccess()
			continue
		}
		if isTimeout(err) {
			health.RecordFailure()
			continue
		}
		slog.Debug("wsapi: live peak write failed", "err", err)
		return nil
	}
	return nil
}

// handleRecorderIngest reads little-endian f32 interleaved stereo samples
// from the client and pushes them into the named session's producer.
func (h *Handler) handleRecorderIngest(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.recorder.Lookup(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown recorder session")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("wsapi: upgrade: %w", err)
	}
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		samples, err := decodeFloat32LE(data)
		if err != nil {
			slog.Debug("wsapi: bad recorder frame", "id", id, "err", err)
			continue
		}
		sess.PushFloatSamples(samples)
	}
}

func decodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("wsapi: binary payload length %d not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// handleEcho registers a reader on the session's output buffer and streams
// little-endian i16 interleaved stereo frames to the client at its own
// pace; a client that falls behind observes skipped frames rather than a
// growing backlog.
func (h *Handler) handleEcho(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.recorder.Lookup(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown recorder session")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("wsapi: upgrade: %w", err)
	}
	defer conn.Close()

	readerID := "echo:" + id
	r := recorder.NewEchoReader(sess.OutputBuffer(), readerID)
	defer r.Close()

	// Echo clients never send data, so the read pump exists only to observe
	// the close handshake; without it a silent disconnect would leave the
	// write loop ticking forever.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var health flow.ConsumerHealth
	for {
		select {
		case <-closed:
			return nil
		case <-ticker.C:
		}
		if health.ShouldSkip() {
			continue
		}
		for {
			f, ok, err := r.Next()
			if err != nil || !ok {
				break
			}
			buf := make([]byte, len(f.Samples)*2)
			for i, s := range f.Samples {
				binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err = conn.WriteMessage(websocket.BinaryMessage, buf)
			if err == nil {
				health.RecordSuccess()
				continue
			}
			if isTimeout(err) {
				health.RecordFailure()
				break
			}
			return nil
		}
	}
}
