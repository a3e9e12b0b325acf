package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/dualscribe/internal/audio"
	"github.com/skypro1111/dualscribe/internal/config"
	"github.com/skypro1111/dualscribe/internal/metrics"
	"github.com/skypro1111/dualscribe/internal/protocol"
)

// UDPServer receives capture packets from remote agents and appends their
// audio to the mic and system sample buffers
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	buffers map[uint8]*audio.SampleBuffer

	// Concurrency management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	receive sync.WaitGroup

	// One queue per worker; packets of a source always land on the same
	// worker so sequence order survives the pool
	queues []chan *incomingPacket

	// Per-source tracking, guarded by mu
	sessionTags map[uint8]uint32
	lostSeen    map[uint8]uint64

	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	rejected         uint64
	dropped          uint64
	lastPacket       time.Time
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// ServerStatistics represents ingest statistics
type ServerStatistics struct {
	PacketsReceived  uint64            `json:"packets_received"`
	PacketsProcessed uint64            `json:"packets_processed"`
	ParseErrors      uint64            `json:"parse_errors"`
	Rejected         uint64            `json:"rejected"`
	Dropped          uint64            `json:"dropped"`
	QueueSize        uint64            `json:"queue_size"`
	QueueCapacity    uint64            `json:"queue_capacity"`
	LastPacket       time.Time         `json:"last_packet,omitempty"`
	SessionTags      map[string]uint32 `json:"session_tags"`
}

// NewUDPServer creates an ingest server feeding the given buffers
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, m *metrics.Metrics, mic, system *audio.SampleBuffer) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1000
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	queues := make([]chan *incomingPacket, workers)
	for i := range queues {
		queues[i] = make(chan *incomingPacket, queueSize)
	}

	return &UDPServer{
		config:  cfg,
		logger:  logger,
		metrics: m,
		buffers: map[uint8]*audio.SampleBuffer{
			protocol.SourceMic:    mic,
			protocol.SourceSystem: system,
		},
		ctx:         ctx,
		cancel:      cancel,
		queues:      queues,
		sessionTags: make(map[uint8]uint32),
		lostSeen:    make(map[uint8]uint64),
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP ingest server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", len(s.queues)),
	)

	for i, queue := range s.queues {
		s.wg.Add(1)
		go s.packetProcessor(i, queue)
	}

	s.receive.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP ingest server...")

	s.cancel()

	// Closing the connection unblocks the receive loop
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// Workers drain the queue once the receive loop can no longer send to it
	s.receive.Wait()
	for _, queue := range s.queues {
		close(queue)
	}
	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP ingest server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("rejected", stats.Rejected),
		slog.Uint64("dropped", stats.Dropped),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.receive.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Periodic deadline so cancellation is noticed without traffic
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.lastPacket = time.Now()
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		// The read buffer is reused
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		queue := s.queueFor(packetData)
		select {
		case queue <- packet:
			s.metrics.SetQueueSize(len(queue))
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// queueFor picks the worker queue by the source byte of the header.
// Packets too short to carry one are left for the parser to reject.
func (s *UDPServer) queueFor(data []byte) chan *incomingPacket {
	if len(data) < protocol.HeaderSize {
		return s.queues[0]
	}
	return s.queues[int(data[protocol.HeaderSize-1])%len(s.queues)]
}

// packetProcessor processes packets from one worker queue
func (s *UDPServer) packetProcessor(workerID int, queue <-chan *incomingPacket) {
	defer s.wg.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range queue {
		if wait := time.Since(packet.timestamp); wait > time.Second {
			s.logger.Debug("Packet waited long in queue",
				slog.Duration("wait", wait),
				slog.Int("worker_id", workerID),
			)
		}
		s.handlePacket(packet.data, packet.remoteAddr.String(), workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket parses one packet and applies it to its source buffer
func (s *UDPServer) handlePacket(data []byte, remote string, workerID int) {
	parsed, err := protocol.ParsePacket(data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", remote),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	header := parsed.Header
	buffer := s.buffers[header.Source]
	if buffer == nil {
		return
	}

	switch header.PacketType {
	case protocol.PacketTypeFormat:
		s.processFormatPacket(header, parsed.Format, buffer, workerID)
	case protocol.PacketTypeAudio:
		if !s.processAudioPacket(header, parsed.Audio, buffer, workerID) {
			return
		}
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	s.metrics.RecordPacketProcessed()
}

// processFormatPacket applies a format announcement. A new session tag on a
// source means the agent restarted, so buffered audio and sequence tracking are discarded.
func (s *UDPServer) processFormatPacket(header *protocol.Header, payload *protocol.FormatPayload, buffer *audio.SampleBuffer, workerID int) {
	s.mu.Lock()
	previous, known := s.sessionTags[header.Source]
	s.sessionTags[header.Source] = header.SessionTag
	restarted := known && previous != header.SessionTag
	s.mu.Unlock()

	if restarted {
		buffer.Reset()
		s.logger.Info("Capture agent restarted",
			slog.String("source", protocol.SourceName(header.Source)),
			slog.Uint64("previous_tag", uint64(previous)),
			slog.Uint64("session_tag", uint64(header.SessionTag)),
		)
	}

	buffer.SetFormat(int(payload.SampleRate), int(payload.Channels))

	s.logger.Info("Capture format announced",
		slog.String("source", protocol.SourceName(header.Source)),
		slog.Uint64("session_tag", uint64(header.SessionTag)),
		slog.Int("sample_rate", int(payload.SampleRate)),
		slog.Int("channels", int(payload.Channels)),
		slog.Int("worker_id", workerID),
	)
}

// processAudioPacket appends audio to the source buffer and reports whether it was accepted
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload, buffer *audio.SampleBuffer, workerID int) bool {
	if err := buffer.AppendPCM16(payload.Sequence, payload.AudioData); err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()

		s.logger.Debug("Audio packet rejected",
			slog.String("source", protocol.SourceName(header.Source)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return false
	}

	lost := buffer.Stats().LostPackets
	s.mu.Lock()
	newlyLost := uint64(0)
	if lost > s.lostSeen[header.Source] {
		newlyLost = lost - s.lostSeen[header.Source]
	}
	s.lostSeen[header.Source] = lost
	s.mu.Unlock()

	source := protocol.SourceName(header.Source)
	s.metrics.RecordPacketsLost(source, newlyLost)
	if newlyLost > 0 {
		s.logger.Warn("Audio packets lost",
			slog.String("source", source),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Uint64("lost", newlyLost),
		)
	}
	return true
}

// IsRecording reports whether audio arrived within the given idle window
func (s *UDPServer) IsRecording(idle time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.lastPacket.IsZero() && time.Since(s.lastPacket) < idle
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queued, capacity := 0, 0
	for _, queue := range s.queues {
		queued += len(queue)
		capacity += cap(queue)
	}

	tags := make(map[string]uint32, len(s.sessionTags))
	for source, tag := range s.sessionTags {
		tags[protocol.SourceName(source)] = tag
	}

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		Rejected:         s.rejected,
		Dropped:          s.dropped,
		QueueSize:        uint64(queued),
		QueueCapacity:    uint64(capacity),
		LastPacket:       s.lastPacket,
		SessionTags:      tags,
	}
}
