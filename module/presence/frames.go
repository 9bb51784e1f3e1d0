package presence

import (
	"encoding/json"
	"strconv"

	"github.com/buger/jsonparser"

	"PRelay/tools/errs"
)

// Event names exchanged over a connection.
const (
	EventAddUser           = "addUser"
	EventGetUsers          = "getUsers"
	EventSendMessage       = "sendMessage"
	EventSendMessageToBoth = "sendMessageToBoth"
	EventGetMessage        = "getMessage"
)

// Frame is the {"event": ..., "data": ...} envelope. Data holds the raw bytes
// of the data member exactly as received; for string values jsonparser
// strips the quotes, so DataType must be checked before reuse.
type Frame struct {
	Event    string
	Data     []byte
	DataType jsonparser.ValueType
}

var ErrMalformedFrame = errs.NewCodeError(errs.TransportError, "MalformedFrame")

func DecodeFrame(raw []byte) (Frame, error) {
	event, err := jsonparser.GetString(raw, "event")
	if err != nil || event == "" {
		return Frame{}, ErrMalformedFrame.WrapMsg("missing event")
	}
	data, dt, _, err := jsonparser.Get(raw, "data")
	if err != nil && dt != jsonparser.NotExist {
		return Frame{}, ErrMalformedFrame.WrapMsg("bad data", "event", event, "err", err)
	}
	return Frame{Event: event, Data: data, DataType: dt}, nil
}

// EncodeFrame wraps an already-encoded JSON value without touching its bytes.
func EncodeFrame(event string, data []byte) []byte {
	name, _ := json.Marshal(event)
	if len(data) == 0 {
		data = []byte("null")
	}
	out := make([]byte, 0, len(name)+len(data)+20)
	out = append(out, `{"event":`...)
	out = append(out, name...)
	out = append(out, `,"data":`...)
	out = append(out, data...)
	out = append(out, '}')
	return out
}

// userIDFromData accepts "alice", 42 or {"userId": "alice"}.
func userIDFromData(f Frame) string {
	switch f.DataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(f.Data)
		if err != nil {
			return ""
		}
		return s
	case jsonparser.Number:
		return string(f.Data)
	case jsonparser.Object:
		return idField(f.Data, "userId")
	}
	return ""
}

// idField reads a string or numeric identifier at path; anything else is "".
func idField(payload []byte, path ...string) string {
	v, dt, _, err := jsonparser.Get(payload, path...)
	if err != nil {
		return ""
	}
	switch dt {
	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			return ""
		}
		return s
	case jsonparser.Number:
		if _, err := strconv.ParseFloat(string(v), 64); err != nil {
			return ""
		}
		return string(v)
	}
	return ""
}

func receiverID(payload []byte) string { return idField(payload, "receiverId") }

func senderID(payload []byte) string { return idField(payload, "senderId") }

// firstReceiverID reads receiverIds[0].userId. Only the first descriptor is
// ever routed.
func firstReceiverID(payload []byte) string {
	return idField(payload, "receiverIds", "[0]", "userId")
}
