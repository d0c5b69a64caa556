package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Volcengine openspeech binary framing:
//
//	byte 0: protocol version (4 bits) | header size in 4-byte words (4 bits)
//	byte 1: message type (4 bits)     | message flags (4 bits)
//	byte 2: serialization (4 bits)    | compression (4 bits)
//	byte 3: reserved
//
// followed by an optional sequence, optional event metadata, an error code for
// error frames, then a big-endian payload size and the payload.
const protocolVersion = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 的低两位描述 sequence，第三位表示携带事件。
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

// EventType 服务端事件
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// SerializationMethod 序列化方法
type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 压缩方法
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header is the fixed 4-byte frame header.
type Header struct {
	ProtocolVersion     uint8
	HeaderSize          uint8
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
	Reserved            uint8
}

// Message is one decoded frame.
type Message struct {
	Header    Header
	Sequence  int32
	EventType EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

// NewHeader returns a 4-byte header.
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     protocolVersion,
		HeaderSize:          1,
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
	}
}

// Encode packs the header.
func (h Header) Encode() []byte {
	return []byte{
		h.ProtocolVersion<<4 | h.HeaderSize,
		uint8(h.MessageType)<<4 | uint8(h.MessageFlags),
		uint8(h.SerializationMethod)<<4 | uint8(h.CompressionMethod),
		h.Reserved,
	}
}

// DecodeHeader unpacks a header and rejects unknown protocol versions.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 4 {
		return Header{}, fmt.Errorf("header too short: %d bytes", len(data))
	}

	h := Header{
		ProtocolVersion:     data[0] >> 4,
		HeaderSize:          data[0] & 0x0F,
		MessageType:         MessageType(data[1] >> 4),
		MessageFlags:        MessageFlags(data[1] & 0x0F),
		SerializationMethod: SerializationMethod(data[2] >> 4),
		CompressionMethod:   CompressionMethod(data[2] & 0x0F),
		Reserved:            data[3],
	}
	if h.ProtocolVersion != protocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version: %d", h.ProtocolVersion)
	}
	return h, nil
}

func (m *Message) hasSequence() bool {
	f := m.Header.MessageFlags & sequenceMask
	return f == PositiveSequenceNumber || f == NegativeSequenceNumber
}

func (m *Message) hasEvent() bool {
	return m.Header.MessageFlags&WithEvent == WithEvent
}

// IsLastPacket reports whether the frame closes the stream.
func (m *Message) IsLastPacket() bool {
	f := m.Header.MessageFlags & sequenceMask
	return f == LastPacketNoSequence || f == NegativeSequenceNumber
}

// EncodeMessage serializes a frame.
func EncodeMessage(msg *Message) []byte {
	buf := msg.Header.Encode()

	if msg.hasSequence() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(msg.Sequence))
	}

	if msg.hasEvent() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(msg.EventType))
		if !eventSkipsSessionID(msg.EventType) {
			buf = appendSized(buf, msg.SessionID)
		}
		if eventHasConnectID(msg.EventType) {
			buf = appendSized(buf, msg.ConnectID)
		}
	}

	if msg.Header.MessageType == ErrorMessage {
		buf = binary.BigEndian.AppendUint32(buf, msg.ErrorCode)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	return append(buf, msg.Payload...)
}

func appendSized(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// DecodeMessage parses one frame.
func DecodeMessage(data []byte) (*Message, error) {
	r := bytes.NewReader(data)

	raw := make([]byte, 4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	msg := &Message{Header: header}

	if extra := int(header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := r.Seek(int64(extra), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip extended header: %w", err)
		}
	}

	if msg.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		msg.Sequence = int32(seq)
	}

	if msg.hasEvent() {
		event, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event type: %w", err)
		}
		msg.EventType = EventType(int32(event))

		if !eventSkipsSessionID(msg.EventType) {
			if msg.SessionID, err = readSized(r); err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
		}
		if eventHasConnectID(msg.EventType) {
			if msg.ConnectID, err = readSized(r); err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
		}
	}

	if header.MessageType == ErrorMessage {
		if msg.ErrorCode, err = readUint32(r); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	size, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if size > 0 {
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("payload truncated: want %d bytes, have %d", size, r.Len())
		}
		msg.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}

	return msg, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil || n == 0 {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateFullClientRequest builds the JSON request frame that opens a session.
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header:  NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		Payload: payload,
	}
}

// CreateAudioOnlyRequest builds an audio frame. The last frame carries the
// negated sequence number.
func CreateAudioOnlyRequest(audio []byte, sequence int32, isLast bool, compression CompressionMethod) *Message {
	flags := PositiveSequenceNumber
	switch {
	case isLast && sequence != 0:
		flags = NegativeSequenceNumber
		sequence = -sequence
	case isLast:
		flags = LastPacketNoSequence
	case sequence <= 0:
		flags = NoSequenceNumber
	}

	return &Message{
		Header:   NewHeader(AudioOnlyRequest, flags, NoSerialization, compression),
		Sequence: sequence,
		Payload:  audio,
	}
}

func eventSkipsSessionID(event EventType) bool {
	switch event {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}
