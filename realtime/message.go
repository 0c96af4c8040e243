package realtime

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"
	"github.com/wricardo/courtside/jsoncodec"
)

// Message is one inbound server push. Kind is the "type" discriminator and
// Payload the complete JSON object as received.
type Message struct {
	Kind    string
	Payload json.RawMessage
}

// parseMessage checks data is valid JSON and reads its discriminator.
// Messages without a string "type" get an empty Kind.
func parseMessage(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, fmt.Errorf("invalid JSON (%d bytes)", len(data))
	}
	var kind string
	if t := gjson.GetBytes(data, "type"); t.Type == gjson.String {
		kind = t.Str
	}
	return Message{Kind: kind, Payload: json.RawMessage(data)}, nil
}

// Get returns the raw field at path (gjson syntax) in the payload.
func (m Message) Get(path string) gjson.Result {
	return gjson.GetBytes(m.Payload, path)
}

// Decode unmarshals the whole payload into v.
func (m Message) Decode(v any) error {
	return jsoncodec.Unmarshal(m.Payload, v)
}

// Listener receives every message dispatched on a channel.
// Listeners are compared by identity, so implementations should be pointers.
type Listener interface {
	OnMessage(Message)
}

type funcListener struct {
	fn func(Message)
}

func (f *funcListener) OnMessage(m Message) { f.fn(m) }

// Func adapts fn into a Listener. Each call returns a distinct listener, so
// keep the returned value to unsubscribe or resubscribe it later.
func Func(fn func(Message)) Listener {
	return &funcListener{fn: fn}
}

func isComparable(l Listener) bool {
	return reflect.TypeOf(l).Comparable()
}
