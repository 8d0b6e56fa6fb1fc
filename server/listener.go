package server

import "github.com/Mmx233/TcpFrame/conn"

// Listener observes a Server. Connection callbacks run on the connection's
// goroutine; OnMessage receives frames of one connection in wire order.
type Listener interface {
	OnStarted()
	OnStopped()
	OnClientConnected(c *conn.Conn)
	OnClientDisconnected(c *conn.Conn)
	OnMessage(c *conn.Conn, frame []byte)
}

// ListenerFuncs adapts functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Started            func()
	Stopped            func()
	ClientConnected    func(c *conn.Conn)
	ClientDisconnected func(c *conn.Conn)
	Message            func(c *conn.Conn, frame []byte)
}

func (f ListenerFuncs) OnStarted() {
	if f.Started != nil {
		f.Started()
	}
}

func (f ListenerFuncs) OnStopped() {
	if f.Stopped != nil {
		f.Stopped()
	}
}

func (f ListenerFuncs) OnClientConnected(c *conn.Conn) {
	if f.ClientConnected != nil {
		f.ClientConnected(c)
	}
}

func (f ListenerFuncs) OnClientDisconnected(c *conn.Conn) {
	if f.ClientDisconnected != nil {
		f.ClientDisconnected(c)
	}
}

func (f ListenerFuncs) OnMessage(c *conn.Conn, frame []byte) {
	if f.Message != nil {
		f.Message(c, frame)
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Server) Subscribe(l Listener) (unsubscribe func()) {
	return s.listeners.Add(l)
}

func (s *Server) notify(event string, fn func(Listener)) {
	s.listeners.Each(func(l Listener) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("event", event).Msg("listener panicked")
			}
		}()
		fn(l)
	})
}
