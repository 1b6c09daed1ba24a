package bridge

import (
	"encoding/json"
	"strings"
)

// DoneMarker is the data payload that ends a response stream.
const DoneMarker = "[DONE]"

// DefaultPartPath identifies patches that append to the visible answer text.
const DefaultPartPath = "/message/content/parts/0"

// Decoded is the result of decoding one data payload line.
type Decoded struct {
	Fragments []string
	Done      bool
}

// Decoder turns one event-stream data payload into fragments. Implementations
// must not fail: payloads they cannot interpret decode to nothing.
type Decoder interface {
	Decode(payload string) Decoded
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(payload string) Decoded

// Decode calls f.
func (f DecoderFunc) Decode(payload string) Decoded { return f(payload) }

// PatchDecoder reads the delta-encoding used by the chat backend, where each
// payload is a JSON object with a "v" list of {o, p, v} operations.
type PatchDecoder struct {
	// PartPath is matched as a substring of each patch path.
	PartPath string
}

// rawPatch keeps every field raw so one malformed operation cannot spoil its
// siblings.
type rawPatch struct {
	Op    json.RawMessage `json:"o"`
	Path  json.RawMessage `json:"p"`
	Value json.RawMessage `json:"v"`
}

// appendText returns the text of an append at partPath. Anything else,
// including fields of the wrong JSON type, yields ok == false.
func (p rawPatch) appendText(partPath string) (text string, ok bool) {
	var op, path string
	if json.Unmarshal(p.Op, &op) != nil || op != "append" {
		return "", false
	}
	if json.Unmarshal(p.Path, &path) != nil || !strings.Contains(path, partPath) {
		return "", false
	}
	if json.Unmarshal(p.Value, &text) != nil {
		return "", false
	}
	return text, true
}

// Decode implements Decoder.
func (d PatchDecoder) Decode(payload string) Decoded {
	payload = strings.TrimSpace(payload)
	if payload == DoneMarker {
		return Decoded{Done: true}
	}
	if payload == "" || payload[0] != '{' {
		return Decoded{}
	}

	var env rawPatch
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Decoded{}
	}

	partPath := d.PartPath
	if partPath == "" {
		partPath = DefaultPartPath
	}

	// Batched form {"v": [{o,p,v}, ...]}, otherwise a single top-level patch.
	var elems []json.RawMessage
	if json.Unmarshal(env.Value, &elems) != nil {
		if text, ok := env.appendText(partPath); ok {
			return Decoded{Fragments: []string{text}}
		}
		return Decoded{}
	}

	var out Decoded
	for _, raw := range elems {
		var p rawPatch
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		if text, ok := p.appendText(partPath); ok {
			out.Fragments = append(out.Fragments, text)
		}
	}
	return out
}
