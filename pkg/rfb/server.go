package rfb

import (
	"io"
	"net"
	"sync"

	"github.com/kamrankamilli/gsvnc/pkg/internal/log"
)

// Server is a thin TCP accept loop: each accepted connection gets its own
// independent Session built by the newSession function given to NewServer, with no shared
// mutable state between sessions. This is not the fan-out-to-many-viewers
// design conn.go's Server/Conn pair implemented for the teacher's video
// stream; every VNC client here negotiates, authenticates and is served
// its own private framebuffer view.
type Server struct {
	log *log.Logger

	listener net.Listener

	newSession func() *Session

	connMu      sync.Mutex
	connections map[*Session]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewServer constructs a Server that spawns one Session per accepted
// connection via newSession. newSession is called once per connection, so
// it should return a freshly configured *Session (e.g. wrapping rfb.New
// with per-server Options).
func NewServer(newSession func() *Session, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		log:         logger,
		newSession:  newSession,
		connections: make(map[*Session]struct{}),
		done:        make(chan struct{}),
	}
}

// Serve accepts connections on listener until it is closed or Close is
// called. Each accepted connection is handed to a fresh Session and served
// on its own goroutine.
func (srv *Server) Serve(listener net.Listener) error {
	srv.listener = listener
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-srv.done:
				return nil
			default:
			}
			srv.log.Errorf("accept failed: %v", err)
			return err
		}
		srv.log.Infof("accepted connection from %s", conn.RemoteAddr())

		srv.ServeConn(conn)
	}
}

// ServeConn spawns a fresh Session over an already-accepted connection,
// on its own goroutine, tracked the same way as connections accepted by
// Serve. Used directly by transports other than the TCP accept loop (the
// WebSocket bridge).
func (srv *Server) ServeConn(conn io.ReadWriteCloser) {
	session := srv.newSession()
	srv.track(session)

	go func() {
		defer srv.untrack(session)
		_ = session.Serve(conn)
	}()
}

func (srv *Server) track(s *Session) {
	srv.connMu.Lock()
	srv.connections[s] = struct{}{}
	srv.connMu.Unlock()
}

func (srv *Server) untrack(s *Session) {
	srv.connMu.Lock()
	delete(srv.connections, s)
	srv.connMu.Unlock()
}

// CloseAllSessions closes every currently tracked session without blocking.
func (srv *Server) CloseAllSessions() {
	srv.connMu.Lock()
	sessions := make([]*Session, 0, len(srv.connections))
	for s := range srv.connections {
		sessions = append(sessions, s)
	}
	srv.connMu.Unlock()

	for _, s := range sessions {
		s.CloseAsync()
	}
}

// Close stops accepting new connections and closes all tracked sessions.
func (srv *Server) Close() error {
	srv.closeOnce.Do(func() {
		close(srv.done)
		if srv.listener != nil {
			_ = srv.listener.Close()
		}
	})
	srv.CloseAllSessions()
	return nil
}
