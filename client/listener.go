package client

// Listener observes a Client. Callbacks run on client goroutines and must not
// call Close.
type Listener interface {
	OnConnected()
	OnDisconnected()
	// OnMessage receives every frame in wire order from the read goroutine.
	OnMessage(frame []byte)
}

// ListenerFuncs adapts functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Connected    func()
	Disconnected func()
	Message      func(frame []byte)
}

func (f ListenerFuncs) OnConnected() {
	if f.Connected != nil {
		f.Connected()
	}
}

func (f ListenerFuncs) OnDisconnected() {
	if f.Disconnected != nil {
		f.Disconnected()
	}
}

func (f ListenerFuncs) OnMessage(frame []byte) {
	if f.Message != nil {
		f.Message(frame)
	}
}

// Subscribe registers l and returns a function that removes it.
func (c *Client) Subscribe(l Listener) (unsubscribe func()) {
	return c.listeners.Add(l)
}

// notify calls fn for every listener, isolating panics per listener.
func (c *Client) notify(event string, fn func(Listener)) {
	c.listeners.Each(func(l Listener) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Str("event", event).Msg("listener panicked")
			}
		}()
		fn(l)
	})
}
