package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Packet types
	PacketTypeFormat = 0x01
	PacketTypeAudio  = 0x02

	// Capture sources
	SourceSystem = 0x01 // System audio (the remote side of a call)
	SourceMic    = 0x02 // Local microphone

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	FormatPayloadSize      = 6 // 4 + 2 bytes
	AudioPayloadHeaderSize = 4 // Sequence number

	// MaxPacketSize is the largest packet the 16-bit length field can describe
	MaxPacketSize = 0xFFFF
)

var (
	ErrPacketTooShort = errors.New("packet too short")
	ErrLengthMismatch = errors.New("packet length mismatch")
	ErrUnknownType    = errors.New("unknown packet type")
	ErrInvalidSource  = errors.New("invalid source")
	ErrInvalidFormat  = errors.New("invalid audio format")
)

// Header is the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][SessionTag:4][Source:1]
type Header struct {
	PacketType uint8  // 0x01=Format, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	SessionTag uint32 // Identifies the capture agent's recording
	Source     uint8  // 0x01=System, 0x02=Mic
}

// FormatPayload announces the format of the audio that follows on a source
// Layout: [SampleRate:4][Channels:2]
type FormatPayload struct {
	SampleRate uint32
	Channels   uint16
}

// AudioPayload carries interleaved little-endian PCM16 samples
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte
}

// ParsedPacket is a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Format *FormatPayload // Only set for format packets
	Audio  *AudioPayload  // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrPacketTooShort, HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SessionTag: binary.BigEndian.Uint32(data[3:7]),
		Source:     data[7],
	}, nil
}

// ParseFormatPayload parses a 6-byte format payload
func ParseFormatPayload(data []byte) (*FormatPayload, error) {
	if len(data) < FormatPayloadSize {
		return nil, fmt.Errorf("%w: format payload needs %d bytes, got %d", ErrPacketTooShort, FormatPayloadSize, len(data))
	}

	payload := &FormatPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		Channels:   binary.BigEndian.Uint16(data[4:6]),
	}
	if payload.SampleRate == 0 || payload.Channels == 0 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", ErrInvalidFormat, payload.SampleRate, payload.Channels)
	}
	return payload, nil
}

// ParseAudioPayload parses an audio payload. The PCM data is copied.
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("%w: audio payload needs at least %d bytes, got %d",
			ErrPacketTooShort, AudioPayloadHeaderSize, len(data))
	}
	if (len(data)-AudioPayloadHeaderSize)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM16 length %d", ErrInvalidFormat, len(data)-AudioPayloadHeaderSize)
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}
	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}
	return payload, nil
}

// ParsePacket parses and validates a complete packet
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("%w: header says %d bytes, got %d", ErrLengthMismatch, header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeFormat:
		payload, err := ParseFormatPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse format payload: %w", err)
		}
		packet.Format = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload
	}

	return packet, nil
}

// ValidateHeader checks the header fields against the declared payload size
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownType, header.PacketType)
	}
	if !IsValidSource(header.Source) {
		return fmt.Errorf("%w: 0x%02x", ErrInvalidSource, header.Source)
	}
	if header.PacketLen < HeaderSize {
		return fmt.Errorf("%w: length %d below header size %d", ErrPacketTooShort, header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeFormat:
		if payloadSize != FormatPayloadSize {
			return fmt.Errorf("%w: format payload is %d bytes, expected %d", ErrLengthMismatch, payloadSize, FormatPayloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("%w: audio payload is %d bytes, expected at least %d",
				ErrPacketTooShort, payloadSize, AudioPayloadHeaderSize)
		}
	}
	return nil
}

// IsValidPacketType checks if the packet type is known
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeFormat || ptype == PacketTypeAudio
}

// IsValidSource checks if the source is known
func IsValidSource(source uint8) bool {
	return source == SourceSystem || source == SourceMic
}

// SourceName returns "system" or "mic"
func SourceName(source uint8) string {
	switch source {
	case SourceSystem:
		return "system"
	case SourceMic:
		return "mic"
	default:
		return fmt.Sprintf("unknown(0x%02x)", source)
	}
}

// BuildFormatPacket encodes a format announcement
func BuildFormatPacket(sessionTag uint32, source uint8, sampleRate uint32, channels uint16) []byte {
	packet := make([]byte, HeaderSize+FormatPayloadSize)
	putHeader(packet, PacketTypeFormat, sessionTag, source)
	binary.BigEndian.PutUint32(packet[HeaderSize:], sampleRate)
	binary.BigEndian.PutUint16(packet[HeaderSize+4:], channels)
	return packet
}

// BuildAudioPacket encodes a sequenced block of PCM16 audio.
// pcm must fit the 16-bit length field.
func BuildAudioPacket(sessionTag uint32, source uint8, sequence uint32, pcm []byte) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet of %d bytes exceeds maximum %d", size, MaxPacketSize)
	}

	packet := make([]byte, size)
	putHeader(packet, PacketTypeAudio, sessionTag, source)
	binary.BigEndian.PutUint32(packet[HeaderSize:], sequence)
	copy(packet[HeaderSize+AudioPayloadHeaderSize:], pcm)
	return packet, nil
}

func putHeader(packet []byte, ptype uint8, sessionTag uint32, source uint8) {
	packet[0] = ptype
	binary.BigEndian.PutUint16(packet[1:3], uint16(len(packet)))
	binary.BigEndian.PutUint32(packet[3:7], sessionTag)
	packet[7] = source
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeFormat:
		packetType = "Format"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, SessionTag:%d, Source:%s}",
		packetType, h.PacketLen, h.SessionTag, SourceName(h.Source))
}

// String returns a human-readable representation of the format payload
func (f *FormatPayload) String() string {
	return fmt.Sprintf("FormatPayload{SampleRate:%d, Channels:%d}", f.SampleRate, f.Channels)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
