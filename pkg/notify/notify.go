// Package notify delivers captured packets and error statuses to the
// functions registered by the host application.
package notify

import (
	"errors"
	"fmt"
	"sync"
)

// Category selects which kind of notification a function receives.
type Category uint8

const (
	Error Category = iota
	PacketSent
	PacketReceived
)

func (c Category) String() string {
	switch c {
	case Error:
		return "error"
	case PacketSent:
		return "packet-sent"
	case PacketReceived:
		return "packet-received"
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// ParseCategory is the inverse of Category.String for packet categories.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "packet-sent", "sent", "send":
		return PacketSent, nil
	case "packet-received", "received", "recv":
		return PacketReceived, nil
	case "error":
		return Error, nil
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (c Category) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Category) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ErrorFunc receives error statuses.
type ErrorFunc func(status Status)

// PacketFunc receives a captured packet. Data is only valid for the
// duration of the call.
type PacketFunc func(length uint32, tag byte, data []byte)

// ErrAlreadyRegistered is returned when a function is registered for a
// category that already has one.
var ErrAlreadyRegistered = errors.New("listener already registered")

// Listeners holds at most one function per category. Registration may
// happen from any goroutine; notifications are delivered synchronously on
// the goroutine that produces them.
type Listeners struct {
	mu      sync.RWMutex
	onError ErrorFunc
	packet  map[Category]PacketFunc
}

// NewListeners returns an empty set of listeners.
func NewListeners() *Listeners {
	return &Listeners{packet: make(map[Category]PacketFunc)}
}

// RegisterError sets the error listener.
func (l *Listeners) RegisterError(fn ErrorFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.onError != nil {
		return ErrAlreadyRegistered
	}
	l.onError = fn
	return nil
}

// RegisterPacket sets the listener for a packet category.
func (l *Listeners) RegisterPacket(cat Category, fn PacketFunc) error {
	if cat != PacketSent && cat != PacketReceived {
		return fmt.Errorf("%v is not a packet category", cat)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.packet[cat] != nil {
		return ErrAlreadyRegistered
	}
	if l.packet == nil {
		l.packet = make(map[Category]PacketFunc)
	}
	l.packet[cat] = fn
	return nil
}

// Unregister removes the listener of cat, if any.
func (l *Listeners) Unregister(cat Category) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cat == Error {
		l.onError = nil
		return
	}
	delete(l.packet, cat)
}

// Packet notifies the listener of cat, if any.
func (l *Listeners) Packet(cat Category, length uint32, tag byte, data []byte) {
	if l == nil {
		return
	}
	l.mu.RLock()
	fn := l.packet[cat]
	l.mu.RUnlock()
	if fn != nil {
		fn(length, tag, data)
	}
}

// Error notifies the error listener, if any, with the status of err.
func (l *Listeners) Error(err error) {
	if l == nil || err == nil {
		return
	}
	l.mu.RLock()
	fn := l.onError
	l.mu.RUnlock()
	if fn != nil {
		fn(StatusOf(err))
	}
}
