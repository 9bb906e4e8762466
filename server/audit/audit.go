package audit

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// Recorder receives one-way audit notifications for every significant auth decision
// and privileged action. Record must never block the request path, and failures must
// never propagate back to the caller.
type Recorder interface {
	Record(msg string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) Record(msg string) {}

// MemRecorder keeps audit messages in memory, for tests.
type MemRecorder struct {
	lock     sync.Mutex
	messages []string
}

func (m *MemRecorder) Record(msg string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *MemRecorder) Messages() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string{}, m.messages...)
}

func (m *MemRecorder) Clear() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.messages = nil
}

// auth facility (4), notice severity (5)
const syslogPriority = 4*8 + 5

const maxQueueSize = 256

// SyslogRecorder sends audit messages as RFC3164-style datagrams to a syslog collector.
// Messages are queued and transmitted by a single goroutine, so a slow or dead collector
// never stalls a request. When the queue is full we drop the new message and log a warning.
type SyslogRecorder struct {
	ShutdownComplete chan bool // Closed when the transmit goroutine has exited

	log      logs.Log
	conn     net.Conn
	tag      string
	hostname string
	queue    chan string
}

func NewSyslogRecorder(logger logs.Log, network, address, tag string) (*SyslogRecorder, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("Failed to dial audit collector %v %v: %w", network, address, err)
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}
	r := &SyslogRecorder{
		ShutdownComplete: make(chan bool),
		log:              logger,
		conn:             conn,
		tag:              tag,
		hostname:         hostname,
		queue:            make(chan string, maxQueueSize),
	}
	go r.transmit()
	return r, nil
}

func (r *SyslogRecorder) Record(msg string) {
	select {
	case r.queue <- msg:
	default:
		r.log.Warnf("Audit queue full, dropping message: %v", msg)
	}
}

// Close stops the transmit goroutine after draining the queue.
func (r *SyslogRecorder) Close() {
	close(r.queue)
	<-r.ShutdownComplete
	r.conn.Close()
}

func (r *SyslogRecorder) transmit() {
	for msg := range r.queue {
		line := fmt.Sprintf("<%d>%s %s %s: %s\n", syslogPriority, time.Now().Format(time.Stamp), r.hostname, r.tag, msg)
		if _, err := r.conn.Write([]byte(line)); err != nil {
			r.log.Warnf("Failed to transmit audit message: %v", err)
		}
	}
	close(r.ShutdownComplete)
}
