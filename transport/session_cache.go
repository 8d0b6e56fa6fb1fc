package transport

import (
	"crypto/tls"
	"sync"
)

// SessionCache keeps one TLS client session cache per server address, so a
// reconnect to the same address can resume its previous session.
type SessionCache struct {
	caches sync.Map // address -> tls.ClientSessionCache
}

func NewSessionCache() *SessionCache {
	return &SessionCache{}
}

// GetOrCreate returns the session cache for address, creating one if needed.
func (m *SessionCache) GetOrCreate(address string) tls.ClientSessionCache {
	if cache, ok := m.caches.Load(address); ok {
		return cache.(tls.ClientSessionCache)
	}
	actual, _ := m.caches.LoadOrStore(address, tls.NewLRUClientSessionCache(0))
	return actual.(tls.ClientSessionCache)
}

// Get returns the session cache for address, or nil.
func (m *SessionCache) Get(address string) tls.ClientSessionCache {
	if cache, ok := m.caches.Load(address); ok {
		return cache.(tls.ClientSessionCache)
	}
	return nil
}

// Clear drops the cached sessions of address.
func (m *SessionCache) Clear(address string) {
	m.caches.Delete(address)
}

func (m *SessionCache) Count() int {
	count := 0
	m.caches.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// clientConfig clones base and fills the server name and session cache for ep.
func (m *SessionCache) clientConfig(base *tls.Config, ep Endpoint) *tls.Config {
	conf := base.Clone()
	if conf.ServerName == "" {
		conf.ServerName = ep.Host
	}
	if conf.ClientSessionCache == nil && m != nil {
		conf.ClientSessionCache = m.GetOrCreate(ep.Address)
	}
	return conf
}
