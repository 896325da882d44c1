package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v5 packet types carried inside an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

// PacketKind classifies a decoded frame.
type PacketKind int

const (
	KindUnknown PacketKind = iota
	KindOpen
	KindClose
	KindPing
	KindPong
	KindNoop
	KindConnect
	KindDisconnect
	KindConnectError
	KindEvent
)

// Packet is a decoded text frame.
type Packet struct {
	Kind  PacketKind
	Event string
	// Data is the first event argument, or the JSON body of open/connect
	// packets. Empty when absent.
	Data json.RawMessage
}

var errMalformed = errors.New("malformed packet")

// EncodeEvent renders an event frame for the default namespace.
// A nil payload sends the event name alone.
func EncodeEvent(event string, payload any) ([]byte, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

// Decode parses a text frame.
func Decode(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, errMalformed
	}
	body := frame[1:]
	switch frame[0] {
	case eioOpen:
		return Packet{Kind: KindOpen, Data: json.RawMessage(body)}, nil
	case eioClose:
		return Packet{Kind: KindClose}, nil
	case eioPing:
		return Packet{Kind: KindPing}, nil
	case eioPong:
		return Packet{Kind: KindPong}, nil
	case eioNoop:
		return Packet{Kind: KindNoop}, nil
	case eioMessage:
		return decodeMessage(body)
	}
	return Packet{Kind: KindUnknown}, nil
}

func decodeMessage(body []byte) (Packet, error) {
	if len(body) == 0 {
		return Packet{}, errMalformed
	}
	rest := skipNamespace(body[1:])
	switch body[0] {
	case sioConnect:
		return Packet{Kind: KindConnect, Data: json.RawMessage(rest)}, nil
	case sioDisconnect:
		return Packet{Kind: KindDisconnect}, nil
	case sioConnectError:
		return Packet{Kind: KindConnectError, Data: json.RawMessage(rest)}, nil
	case sioEvent:
		rest = skipAckID(rest)
		var args []json.RawMessage
		if err := json.Unmarshal(rest, &args); err != nil || len(args) == 0 {
			return Packet{}, fmt.Errorf("%w: event body %q", errMalformed, rest)
		}
		var name string
		if err := json.Unmarshal(args[0], &name); err != nil {
			return Packet{}, fmt.Errorf("%w: event name", errMalformed)
		}
		p := Packet{Kind: KindEvent, Event: name}
		if len(args) > 1 {
			p.Data = args[1]
		}
		return p, nil
	}
	return Packet{Kind: KindUnknown}, nil
}

// skipNamespace drops a leading "/nsp," segment.
func skipNamespace(b []byte) []byte {
	if len(b) > 0 && b[0] == '/' {
		if i := strings.IndexByte(string(b), ','); i >= 0 {
			return b[i+1:]
		}
		return nil
	}
	return b
}

// skipAckID drops the numeric ack id that may precede an event body.
func skipAckID(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	return b[i:]
}

// EndpointURL turns a site or socket URL into the websocket transport URL:
// http(s) becomes ws(s), the default "/socket.io/" path is added when the URL
// has none, and EIO=4&transport=websocket are set.
func EndpointURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("socket url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
