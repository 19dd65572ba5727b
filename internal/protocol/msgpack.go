package protocol

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec encodes the same flat mapping as JSONCodec using msgpack.
// It is only usable when every participant on the topic is a Go client.
type MsgpackCodec struct{}

// Encode serializes m with msgpack.
func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	w, err := toWire(m, false)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(w)
}

// Decode parses a msgpack payload. It fails closed with a *DecodeError.
func (MsgpackCodec) Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, decodeErr("invalid msgpack", err)
	}
	return fromWire(&w)
}

// CodecByName returns the codec for a configuration value ("json" or
// "msgpack"); legacy only applies to json.
func CodecByName(name string, legacy bool) (Codec, bool) {
	switch name {
	case "", "json":
		return JSONCodec{Legacy: legacy}, true
	case "msgpack":
		return MsgpackCodec{}, true
	default:
		return nil, false
	}
}
