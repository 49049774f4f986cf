package wisun

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// readLineTimeout is the publisher's own poll granularity on the
// port, independent of any command's wait timeout.
const readLineTimeout = 1 * time.Second

// Publisher is the single long-lived reader of a Port. It fans every
// non-empty line out to every subscribed queue by name. Subscribers
// are a registry owned by the publisher, not the other way around,
// so the session manager (which subscribes itself) and the publisher
// never form an ownership cycle.
type Publisher struct {
	port *Port
	log  *log.Logger

	mu          sync.Mutex
	subscribers map[string]chan string

	stop    chan struct{}
	stopped chan struct{}
}

// NewPublisher builds a Publisher over port. Call EnsureASCIIMode
// before Start.
func NewPublisher(port *Port, logger *log.Logger) *Publisher {
	return &Publisher{
		port:        port,
		log:         logger,
		subscribers: make(map[string]chan string),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Subscribe registers a named inbound queue of the given buffer
// depth and returns the receive side. A slow subscriber applies
// back-pressure to the publisher's fan-out loop; lines are never
// dropped.
func (p *Publisher) Subscribe(name string, buffer int) chan string {
	ch := make(chan string, buffer)
	p.mu.Lock()
	p.subscribers[name] = ch
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes a named queue.
func (p *Publisher) Unsubscribe(name string) {
	p.mu.Lock()
	delete(p.subscribers, name)
	p.mu.Unlock()
}

// EnsureASCIIMode reads the module's UDP output format register and,
// if it is not already ASCII, writes it permanently. Must run once
// per device, directly against the port, before Start is called --
// nothing else is reading yet.
func (p *Publisher) EnsureASCIIMode() error {
	if err := p.port.WriteBytes([]byte("ROPT\r\n")); err != nil {
		return err
	}
	line, err := p.port.ReadLine(readLineTimeout)
	if err != nil {
		return err
	}
	n := -1
	if strings.HasPrefix(line, "OK ") {
		n, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "OK ")))
	}
	if n == 1 {
		return nil
	}
	if err := p.port.WriteBytes([]byte("WOPT 01\r\n")); err != nil {
		return err
	}
	if _, err := p.port.ReadLine(readLineTimeout); err != nil {
		return err
	}
	return nil
}

// Start spawns the reader goroutine.
func (p *Publisher) Start() {
	go p.run()
}

// Stop signals the reader goroutine and waits for it to exit.
func (p *Publisher) Stop() {
	close(p.stop)
	<-p.stopped
}

func (p *Publisher) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		line, err := p.port.ReadLine(readLineTimeout)
		if err != nil {
			p.log.Printf("wisun: publisher read error: %v", err)
			continue
		}
		if line == "" {
			continue
		}
		p.broadcast(line)
	}
}

func (p *Publisher) broadcast(line string) {
	p.mu.Lock()
	subs := make([]chan string, 0, len(p.subscribers))
	for _, ch := range p.subscribers {
		subs = append(subs, ch)
	}
	p.mu.Unlock()
	for _, ch := range subs {
		ch <- line
	}
}
