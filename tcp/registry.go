package tcp

import (
	"log/slog"

	"github.com/slashdev/synstamp"
	"github.com/slashdev/synstamp/internal"
	"github.com/slashdev/synstamp/ipv4"
)

// Handler consumes the payload of TCP segments addressed to a registered port.
//
// HandleSegment is called synchronously on the receive path. payload aliases the
// inbound frame buffer and must not be retained after HandleSegment returns.
type Handler interface {
	HandleSegment(payload []byte)
}

// HandlerFunc adapts a function to the [Handler] interface.
type HandlerFunc func(payload []byte)

// HandleSegment calls f(payload).
func (f HandlerFunc) HandleSegment(payload []byte) { f(payload) }

type portEntry struct {
	handler Handler
	port    uint16
}

func (e *portEntry) isFree() bool { return e.port == 0 || e.handler == nil }

// RegistryConfig configures a [PortRegistry].
type RegistryConfig struct {
	// Capacity is the fixed amount of ports that may be registered at once.
	Capacity int
	Logger   *slog.Logger
}

// PortRegistry is a fixed capacity table mapping destination ports to
// handlers. Lookups scan slots in order. Registering a port that is
// already present replaces its handler; registering a new port on a
// full table is silently dropped.
type PortRegistry struct {
	entries []portEntry
	logger
}

// Reset clears the registry and sizes it to cfg.Capacity slots.
func (r *PortRegistry) Reset(cfg RegistryConfig) error {
	if cfg.Capacity <= 0 {
		return synstamp.ErrInvalidConfig
	}
	internal.SliceReuse(&r.entries, cfg.Capacity)
	r.entries = r.entries[:cfg.Capacity]
	clear(r.entries)
	r.logger = logger{log: cfg.Logger}
	return nil
}

// Cap returns the capacity of the registry.
func (r *PortRegistry) Cap() int { return len(r.entries) }

// Len returns the amount of registered ports.
func (r *PortRegistry) Len() (n int) {
	for i := range r.entries {
		if !r.entries[i].isFree() {
			n++
		}
	}
	return n
}

// Register routes segments for port to h, replacing any handler already
// registered for port. If the registry is full and port is not registered
// the registration is dropped. Port 0 and nil handlers are ignored.
func (r *PortRegistry) Register(port uint16, h Handler) {
	if port == 0 || h == nil {
		r.debug("tcp:register:ignored", slog.Uint64("port", uint64(port)))
		return
	}
	free := -1
	for i := range r.entries {
		e := &r.entries[i]
		if e.isFree() {
			if free < 0 {
				free = i
			}
			continue
		}
		if e.port == port {
			e.handler = h
			return
		}
	}
	if free < 0 {
		r.debug("tcp:register:full", slog.Uint64("port", uint64(port)), slog.Int("cap", len(r.entries)))
		return
	}
	r.entries[free] = portEntry{handler: h, port: port}
}

// Unregister removes the handler registered for port. It is a no-op if port is not registered.
func (r *PortRegistry) Unregister(port uint16) {
	for i := range r.entries {
		e := &r.entries[i]
		if !e.isFree() && e.port == port {
			*e = portEntry{}
			return
		}
	}
}

// Lookup returns the handler registered for port or nil if there is none.
func (r *PortRegistry) Lookup(port uint16) Handler {
	for i := range r.entries {
		e := &r.entries[i]
		if !e.isFree() && e.port == port {
			return e.handler
		}
	}
	return nil
}

// Demux dispatches the TCP segment held in carrierData, whose IPv4 header
// starts at offsetIP, to the handler registered for its destination port.
// The payload length is the IPv4 total length minus the IPv4 and TCP header lengths.
// Segments for unregistered ports are discarded and delivered is false.
//
// Demux does not validate the frame: callers must ensure the IPv4 total length
// and TCP data offset fields are consistent with carrierData, else Demux panics.
func (r *PortRegistry) Demux(carrierData []byte, offsetIP int) (delivered bool) {
	ifrm, _ := ipv4.NewFrame(carrierData[offsetIP:])
	ipHeaderLen := ifrm.HeaderLength()
	offTCP := offsetIP + ipHeaderLen
	tfrm, _ := NewFrame(carrierData[offTCP:])
	port := tfrm.DestinationPort()
	h := r.Lookup(port)
	if h == nil {
		r.trace("tcp:demux:noport", slog.Uint64("port", uint64(port)))
		return false
	}
	tcpHeaderLen := tfrm.HeaderLength()
	payloadLen := int(ifrm.TotalLength()) - ipHeaderLen - tcpHeaderLen
	payloadOff := offTCP + tcpHeaderLen
	r.trace("tcp:demux", slog.Uint64("port", uint64(port)), slog.Int("plen", payloadLen))
	h.HandleSegment(carrierData[payloadOff : payloadOff+payloadLen : payloadOff+payloadLen])
	return true
}
