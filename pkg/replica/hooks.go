package replica

import (
	"github.com/QYUbit/netsync/pkg/netlog"
)

// Components opt into lifecycle callbacks by implementing these interfaces.

type ServerStarter interface{ OnStartServer() }
type ServerStopper interface{ OnStopServer() }
type ClientStarter interface{ OnStartClient() }
type ClientStopper interface{ OnStopClient() }
type LocalPlayerStarter interface{ OnStartLocalPlayer() }
type LocalPlayerStopper interface{ OnStopLocalPlayer() }
type AuthorityStarter interface{ OnStartAuthority() }
type AuthorityStopper interface{ OnStopAuthority() }

// each runs fn for every component, recovering per component so one broken
// hook does not keep the others from running.
func (e *Entity) each(log netlog.Logger, hook string, fn func(c Component)) {
	for _, c := range e.components {
		err := safeCall(func() error {
			fn(c)
			return nil
		})
		if err != nil {
			log.Error("lifecycle hook failed", "hook", hook, "entity", e.String(), "component", c.Base().index, "error", err)
		}
	}
}

func (e *Entity) StartServer(log netlog.Logger) {
	if e.serverStarted {
		return
	}
	e.serverStarted = true
	e.each(log, "OnStartServer", func(c Component) {
		if h, ok := c.(ServerStarter); ok {
			h.OnStartServer()
		}
	})
}

func (e *Entity) StopServer(log netlog.Logger) {
	if !e.serverStarted {
		return
	}
	e.serverStarted = false
	e.each(log, "OnStopServer", func(c Component) {
		if h, ok := c.(ServerStopper); ok {
			h.OnStopServer()
		}
	})
}

func (e *Entity) StartClient(log netlog.Logger) {
	if e.clientStarted {
		return
	}
	e.clientStarted = true
	e.each(log, "OnStartClient", func(c Component) {
		if h, ok := c.(ClientStarter); ok {
			h.OnStartClient()
		}
	})
}

func (e *Entity) StopClient(log netlog.Logger) {
	if !e.clientStarted {
		return
	}
	e.clientStarted = false
	e.each(log, "OnStopClient", func(c Component) {
		if h, ok := c.(ClientStopper); ok {
			h.OnStopClient()
		}
	})
}

func (e *Entity) ClientStarted() bool {
	return e.clientStarted
}

func (e *Entity) StartLocalPlayer(log netlog.Logger) {
	if e.localPlayerStarted {
		return
	}
	e.localPlayerStarted = true
	e.each(log, "OnStartLocalPlayer", func(c Component) {
		if h, ok := c.(LocalPlayerStarter); ok {
			h.OnStartLocalPlayer()
		}
	})
}

func (e *Entity) StopLocalPlayer(log netlog.Logger) {
	if !e.localPlayerStarted {
		return
	}
	e.localPlayerStarted = false
	e.each(log, "OnStopLocalPlayer", func(c Component) {
		if h, ok := c.(LocalPlayerStopper); ok {
			h.OnStopLocalPlayer()
		}
	})
}

// NotifyAuthority runs the authority callbacks when ownership flipped since
// the last call.
func (e *Entity) NotifyAuthority(log netlog.Logger) {
	switch {
	case !e.hadAuthority && e.isOwned:
		e.each(log, "OnStartAuthority", func(c Component) {
			if h, ok := c.(AuthorityStarter); ok {
				h.OnStartAuthority()
			}
		})
	case e.hadAuthority && !e.isOwned:
		e.each(log, "OnStopAuthority", func(c Component) {
			if h, ok := c.(AuthorityStopper); ok {
				h.OnStopAuthority()
			}
		})
	}
	e.hadAuthority = e.isOwned
}
