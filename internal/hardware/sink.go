// Package hardware delivers accepted commands and routing assignments to the
// patch host.
package hardware

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/hypebeast/go-osc/osc"
)

// OSC addresses understood by the patch host.
const (
	AddressCV      = "/cv"
	AddressRouting = "/routing"
)

// CV is one outbound control-voltage update.
type CV struct {
	Route     string
	Voltage   float64
	Module    string
	Instance  int
	Parameter string
	Value     int
}

// Sink receives CV updates and routing assignments.
type Sink interface {
	SendCV(cv CV) error
	SendRoute(add bool, output, variable string) error
}

// SinkStats counts deliveries.
type SinkStats struct {
	Sent     uint64 `json:"sent"`
	Failures uint64 `json:"failures"`
}

// OSCSink sends OSC messages over UDP.
//
//	/cv      route voltage module instance parameter value
//	/routing add output variable
//	/routing remove output
type OSCSink struct {
	client   *osc.Client
	sent     atomic.Uint64
	failures atomic.Uint64
}

// NewOSCSink creates a sink for host:port.
func NewOSCSink(host string, port int) *OSCSink {
	return &OSCSink{client: osc.NewClient(host, port)}
}

// SendCV sends a /cv message.
func (s *OSCSink) SendCV(cv CV) error {
	msg := osc.NewMessage(AddressCV,
		cv.Route,
		float32(cv.Voltage),
		cv.Module,
		int32(cv.Instance),
		cv.Parameter,
		int32(cv.Value),
	)
	return s.send(msg)
}

// SendRoute sends /routing add or /routing remove.
func (s *OSCSink) SendRoute(add bool, output, variable string) error {
	if add {
		return s.send(osc.NewMessage(AddressRouting, "add", output, variable))
	}
	return s.send(osc.NewMessage(AddressRouting, "remove", output))
}

func (s *OSCSink) send(msg *osc.Message) error {
	if err := s.client.Send(msg); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("failed to send %s: %w", msg.Address, err)
	}
	s.sent.Add(1)
	return nil
}

// Stats returns delivery counters.
func (s *OSCSink) Stats() SinkStats {
	return SinkStats{Sent: s.sent.Load(), Failures: s.failures.Load()}
}

// LogSink logs instead of sending. Used when no OSC host is configured.
type LogSink struct {
	mu     sync.Mutex
	cv     []CV
	routes int
}

// NewLogSink creates a logging sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) SendCV(cv CV) error {
	s.mu.Lock()
	s.cv = append(s.cv, cv)
	s.mu.Unlock()
	log.Printf("[Hardware] %s#%d.%s: %d (%.3fV) → %s", cv.Module, cv.Instance, cv.Parameter, cv.Value, cv.Voltage, cv.Route)
	return nil
}

func (s *LogSink) SendRoute(add bool, output, variable string) error {
	s.mu.Lock()
	s.routes++
	s.mu.Unlock()
	if add {
		log.Printf("[Hardware] Route %s → %s", output, variable)
	} else {
		log.Printf("[Hardware] Route %s removed", output)
	}
	return nil
}

// Sent returns a copy of every CV update seen.
func (s *LogSink) Sent() []CV {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CV, len(s.cv))
	copy(out, s.cv)
	return out
}

// RouteUpdates returns the number of routing messages seen.
func (s *LogSink) RouteUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routes
}
