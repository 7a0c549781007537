package peerhost

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// maxTopicLen and maxPayloadLen bound a single frame to defend against a
// misbehaving or malformed peer, mirroring wire/message.go's
// MaxMessagePayload guard.
const (
	maxTopicLen   = 256
	maxPayloadLen = 32 * 1024 * 1024
)

// frame is the wire unit exchanged between peers: a length-prefixed topic
// string followed by a length-prefixed payload, grounded on
// wire/message.go's command-header-plus-payload layout in place of a
// protobuf envelope.
type frame struct {
	SenderID string
	Topic    string
	Payload  []byte
}

// writeFrame serializes f to w as:
//
//	u16 len(sender_id) ‖ sender_id
//	u16 len(topic)     ‖ topic
//	u32 len(payload)   ‖ payload
func writeFrame(w io.Writer, f frame) error {
	if len(f.Topic) > maxTopicLen {
		return errors.Errorf("peerhost: topic %q exceeds %d bytes", f.Topic, maxTopicLen)
	}
	if len(f.Payload) > maxPayloadLen {
		return errors.Errorf("peerhost: payload of %d bytes exceeds max %d", len(f.Payload), maxPayloadLen)
	}

	header := make([]byte, 0, 2+len(f.SenderID)+2+len(f.Topic)+4)
	header = appendUint16Prefixed(header, []byte(f.SenderID))
	header = appendUint16Prefixed(header, []byte(f.Topic))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	header = append(header, lenBuf[:]...)

	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "peerhost: writing frame header")
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return errors.Wrap(err, "peerhost: writing frame payload")
		}
	}
	return nil
}

// readFrame deserializes a frame previously written by writeFrame.
func readFrame(r io.Reader) (frame, error) {
	senderID, err := readUint16Prefixed(r, maxTopicLen)
	if err != nil {
		return frame{}, errors.Wrap(err, "peerhost: reading sender id")
	}
	topic, err := readUint16Prefixed(r, maxTopicLen)
	if err != nil {
		return frame{}, errors.Wrap(err, "peerhost: reading topic")
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return frame{}, errors.Wrap(err, "peerhost: reading payload length")
	}
	payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
	if payloadLen > maxPayloadLen {
		return frame{}, errors.Errorf("peerhost: payload length %d exceeds max %d", payloadLen, maxPayloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, errors.Wrap(err, "peerhost: reading payload")
		}
	}
	return frame{SenderID: string(senderID), Topic: string(topic), Payload: payload}, nil
}

func appendUint16Prefixed(dst, data []byte) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(data)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, data...)
}

func readUint16Prefixed(r io.Reader, max int) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(lenBuf[:]))
	if n > max {
		return nil, errors.Errorf("length %d exceeds max %d", n, max)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
