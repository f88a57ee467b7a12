package xenstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// msgType is the xsd_sockmsg_type of a message.
type msgType uint32

const (
	typeControl          msgType = 0
	typeDirectory        msgType = 1
	typeRead             msgType = 2
	typeGetPerms         msgType = 3
	typeWatch            msgType = 4
	typeUnwatch          msgType = 5
	typeTransactionStart msgType = 6
	typeTransactionEnd   msgType = 7
	typeIntroduce        msgType = 8
	typeRelease          msgType = 9
	typeGetDomainPath    msgType = 10
	typeWrite            msgType = 11
	typeMkdir            msgType = 12
	typeRm               msgType = 13
	typeSetPerms         msgType = 14
	typeWatchEvent       msgType = 15
	typeError            msgType = 16
)

const (
	headerSize = 16
	maxPayload = 4096
)

func (t msgType) String() string {
	switch t {
	case typeControl:
		return "CONTROL"
	case typeDirectory:
		return "DIRECTORY"
	case typeRead:
		return "READ"
	case typeGetPerms:
		return "GET_PERMS"
	case typeWatch:
		return "WATCH"
	case typeUnwatch:
		return "UNWATCH"
	case typeTransactionStart:
		return "TRANSACTION_START"
	case typeTransactionEnd:
		return "TRANSACTION_END"
	case typeIntroduce:
		return "INTRODUCE"
	case typeRelease:
		return "RELEASE"
	case typeGetDomainPath:
		return "GET_DOMAIN_PATH"
	case typeWrite:
		return "WRITE"
	case typeMkdir:
		return "MKDIR"
	case typeRm:
		return "RM"
	case typeSetPerms:
		return "SET_PERMS"
	case typeWatchEvent:
		return "WATCH_EVENT"
	case typeError:
		return "ERROR"
	default:
		return fmt.Sprintf("TYPE(%d)", uint32(t))
	}
}

// message is one framed xenstore packet.
type message struct {
	Type    msgType
	ReqID   uint32
	TxID    uint32
	Payload []byte
}

// writeMessage frames m into a single Write call. The xenbus device
// requires each message to arrive in one write.
func writeMessage(w io.Writer, m message) error {
	if len(m.Payload) > maxPayload {
		return fmt.Errorf("xenstore: payload of %d bytes exceeds %d", len(m.Payload), maxPayload)
	}
	buf := make([]byte, headerSize+len(m.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Type))
	binary.LittleEndian.PutUint32(buf[4:8], m.ReqID)
	binary.LittleEndian.PutUint32(buf[8:12], m.TxID)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(m.Payload)))
	copy(buf[headerSize:], m.Payload)
	_, err := w.Write(buf)
	return err
}

func readMessage(r io.Reader) (message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return message{}, err
	}
	m := message{
		Type:  msgType(binary.LittleEndian.Uint32(hdr[0:4])),
		ReqID: binary.LittleEndian.Uint32(hdr[4:8]),
		TxID:  binary.LittleEndian.Uint32(hdr[8:12]),
	}
	n := binary.LittleEndian.Uint32(hdr[12:16])
	if n > maxPayload {
		return message{}, fmt.Errorf("xenstore: %s reply of %d bytes exceeds %d", m.Type, n, maxPayload)
	}
	m.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, m.Payload); err != nil {
		return message{}, err
	}
	return m, nil
}

// nulJoin encodes each argument as a NUL-terminated string.
func nulJoin(args ...string) []byte {
	var b bytes.Buffer
	for _, a := range args {
		b.WriteString(a)
		b.WriteByte(0)
	}
	return b.Bytes()
}

// splitNul decodes a sequence of NUL-terminated strings.
func splitNul(payload []byte) []string {
	payload = bytes.TrimSuffix(payload, []byte{0})
	if len(payload) == 0 {
		return nil
	}
	parts := bytes.Split(payload, []byte{0})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}
