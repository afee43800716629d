// Package stream publishes enriched frames to remote subscribers over gRPC.
//
// A Publisher is a sensor.Sink: Send hands the frame to a broadcast
// goroutine without blocking, and each subscriber has its own bounded
// queue. Slow subscribers lose frames rather than stall the pipeline.
package stream

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/sensorframe/internal/sensor"
)

// Config holds configuration for the stream publisher.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent subscribers
	MaxClients int

	// IncludePixels streams bitmaps along with frame metadata
	IncludePixels bool

	// QueueSize is the publisher's broadcast queue length
	QueueSize int

	// ClientQueueSize is each subscriber's queue length
	ClientQueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "localhost:50061",
		MaxClients:      5,
		IncludePixels:   false,
		QueueSize:       100,
		ClientQueueSize: 10,
	}
}

// Publisher manages the gRPC server and frame fan-out.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	frameChan chan *sensor.SensorFrame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64
	clientDrops   atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// clientStream is one connected subscriber.
type clientStream struct {
	id      string
	filter  *sensor.SensorType
	frameCh chan *sensor.SensorFrame
	doneCh  chan struct{}
}

func (c *clientStream) wants(f *sensor.SensorFrame) bool {
	return c.filter == nil || *c.filter == f.SensorType()
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientQueueSize < 1 {
		cfg.ClientQueueSize = def.ClientQueueSize
	}
	if cfg.MaxClients < 1 {
		cfg.MaxClients = def.MaxClients
	}
	return &Publisher{
		config:    cfg,
		frameChan: make(chan *sensor.SensorFrame, cfg.QueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves subscribers.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves subscribers on lis in the background. The publisher owns lis
// from here on.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	const maxMsgSize = 16 * 1024 * 1024 // 16 MB, a full BGRA photo/video frame
	p.server = grpc.NewServer(grpc.MaxSendMsgSize(maxMsgSize))
	registerFrameStream(p.server, &server{publisher: p})

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[Stream] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Stream] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects subscribers and stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)

	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()

	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}

	p.wg.Wait()
	log.Printf("[Stream] gRPC server stopped after %d frames (%d dropped)", p.frameCount.Load(), p.droppedFrames.Load())
}

// Send implements sensor.Sink. It never blocks.
func (p *Publisher) Send(f *sensor.SensorFrame) {
	if !p.running.Load() || f == nil {
		return
	}
	select {
	case p.frameChan <- f:
		p.frameCount.Add(1)
	default:
		if dropped := p.droppedFrames.Add(1); dropped == 1 || dropped%100 == 0 {
			log.Printf("[Stream] DROPPED frame %s (total dropped: %d), channel full", f.ID(), dropped)
		}
	}
}

// broadcastLoop distributes frames to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frameChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				if !client.wants(frame) {
					continue
				}
				select {
				case client.frameCh <- frame:
				default:
					// Client is slow, drop frame for this client.
					p.clientDrops.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// addClient registers a new subscriber, or returns false at capacity.
func (p *Publisher) addClient(filter *sensor.SensorType) (*clientStream, bool) {
	client := &clientStream{
		id:      uuid.NewString(),
		filter:  filter,
		frameCh: make(chan *sensor.SensorFrame, p.config.ClientQueueSize),
		doneCh:  make(chan struct{}),
	}

	p.clientsMu.Lock()
	if !p.running.Load() || len(p.clients) >= p.config.MaxClients {
		p.clientsMu.Unlock()
		return nil, false
	}
	p.clients[client.id] = client
	p.clientsMu.Unlock()

	p.clientCount.Add(1)
	log.Printf("[Stream] Client connected: %s (total: %d)", client.id, p.clientCount.Load())
	return client, true
}

// removeClient unregisters a subscriber.
func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	client, ok := p.clients[id]
	if ok {
		close(client.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()

	// Stop may already have removed the client; count it once either way.
	p.clientCount.Add(-1)
	log.Printf("[Stream] Client disconnected: %s (remaining: %d)", id, p.clientCount.Load())
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	FrameCount    uint64 `json:"frame_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	ClientDrops   uint64 `json:"client_drops"`
	ClientCount   int32  `json:"client_count"`
	Running       bool   `json:"running"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() Stats {
	return Stats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientDrops:   p.clientDrops.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}
