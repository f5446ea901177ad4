// Package wsview publishes per-frame metadata of a capture stream to browser
// viewers over websocket.
package wsview

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/netutil"

	"github.com/lanikai/pwcapture/internal/logging"
	"github.com/lanikai/pwcapture/internal/transport/loopback"
)

var log = logging.DefaultLogger.WithTag("wsview")

// Source is a stream of delivered frames, typically a *loopback.Graph.
type Source interface {
	Subscribe(capacity int) <-chan *loopback.SharedFrame
	Unsubscribe(s <-chan *loopback.SharedFrame) error
}

// Message describes one frame as sent to viewers.
type Message struct {
	Type       string         `json:"type"`
	Seq        uint64         `json:"seq"`
	PTS        int64          `json:"pts"`
	Slot       int            `json:"slot"`
	Generation uint64         `json:"generation"`
	Width      uint32         `json:"width"`
	Height     uint32         `json:"height"`
	Format     string         `json:"format"`
	DMABuf     bool           `json:"dmabuf"`
	Digest     string         `json:"digest,omitempty"`
	Cursor     *CursorMessage `json:"cursor,omitempty"`
}

type CursorMessage struct {
	ID     uint32 `json:"id"`
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
	Bitmap bool   `json:"bitmap"`
}

// Bytes of pixel data hashed into the digest. Enough to tell frames apart
// without hashing whole frames on the graph's time.
const digestBytes = 4096

func newMessage(f *loopback.SharedFrame) Message {
	m := Message{
		Type:       "frame",
		Seq:        f.Seq,
		PTS:        f.PTS,
		Slot:       int(f.Ref.ID),
		Generation: f.Ref.Generation,
		Width:      f.Format.Width,
		Height:     f.Format.Height,
		Format:     f.Format.PixelFormat.String(),
		DMABuf:     f.DMABuf,
	}
	if data := f.Data; len(data) > 0 {
		if len(data) > digestBytes {
			data = data[:digestBytes]
		}
		sum := blake2b.Sum256(data)
		m.Digest = hex.EncodeToString(sum[:8])
	}
	if c := f.Cursor; c != nil {
		m.Cursor = &CursorMessage{ID: c.ID, X: c.Position.X, Y: c.Position.Y, Bitmap: c.Bitmap != nil}
	}
	return m
}

// Server serves "/" (a minimal viewer page) and "/ws" (the frame feed).
type Server struct {
	src        Source
	maxViewers int
	queue      int

	upgrader websocket.Upgrader
	server   *http.Server

	mu       sync.Mutex
	listener net.Listener
	viewers  map[*websocket.Conn]struct{}
	closed   bool

	// Running websocket handlers.
	handlers sync.WaitGroup
}

// NewServer creates a server for src accepting at most maxViewers
// simultaneous connections.
func NewServer(src Source, maxViewers int) *Server {
	if maxViewers <= 0 {
		maxViewers = 4
	}
	router := http.NewServeMux()
	s := &Server{
		src:        src,
		maxViewers: maxViewers,
		queue:      4,
		server:     &http.Server{Handler: router},
		viewers:    make(map[*websocket.Conn]struct{}),
	}
	router.HandleFunc("/", s.handleIndex)
	router.HandleFunc("/ws", s.handleWebsocket)
	return s
}

// Listen binds addr and serves in the background.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "wsview listen")
	}
	ln = netutil.LimitListener(ln, s.maxViewers)

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Info("viewer at http://%s/", ln.Addr())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close stops the server, drops every viewer and waits until no handler
// touches a frame any more.
func (s *Server) Close() error {
	err := s.server.Close()

	s.mu.Lock()
	s.closed = true
	for ws := range s.viewers {
		ws.Close()
	}
	s.mu.Unlock()

	s.handlers.Wait()
	return err
}

// Track a viewer until done is called. It reports false once the server is
// closing.
func (s *Server) track(ws *websocket.Conn) (done func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.viewers[ws] = struct{}{}
	s.handlers.Add(1)
	return func() {
		s.mu.Lock()
		delete(s.viewers, ws)
		s.mu.Unlock()
		s.handlers.Done()
	}, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	done, ok := s.track(ws)
	if !ok {
		return
	}
	defer done()

	frames := s.src.Subscribe(s.queue)
	defer s.src.Unsubscribe(frames)

	// Reads only serve to notice the viewer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug("viewer %v connected", r.RemoteAddr)
	for {
		select {
		case <-gone:
			log.Debug("viewer %v left", r.RemoteAddr)
			return
		case f, ok := <-frames:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
					time.Now().Add(time.Second))
				return
			}
			msg := newMessage(f)
			f.Release()
			ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := ws.WriteJSON(msg); err != nil {
				log.Warn("write to %v: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>pw-capture</title></head>
<body>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const m = JSON.parse(ev.data);
  log.textContent = "#" + m.seq + " " + m.width + "x" + m.height + " " + m.format +
    " slot " + m.slot + "@" + m.generation + (m.cursor ? " cursor " + m.cursor.x + "," + m.cursor.y : "");
};
ws.onclose = () => { log.textContent += "\n(closed)"; };
</script>
</body>
</html>
`
