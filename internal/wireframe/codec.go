// Package wireframe implements the PSRP out-of-process transport's XML
// envelope grammar and the two Connection flavors (stdio, local pipe) that
// carry it.
package wireframe

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Tag identifies the kind of envelope a Packet carries.
type Tag string

const (
	TagData       Tag = "Data"
	TagCommand    Tag = "Command"
	TagCommandAck Tag = "CommandAck"
	TagDataAck    Tag = "DataAck"
	TagClose      Tag = "Close"
	TagCloseAck   Tag = "CloseAck"
	TagSignal     Tag = "Signal"
	TagSignalAck  Tag = "SignalAck"
)

// StreamType distinguishes the two Data streams the protocol defines.
type StreamType int

const (
	StreamDefault StreamType = iota
	StreamPromptResponse
)

func (s StreamType) String() string {
	if s == StreamPromptResponse {
		return "PromptResponse"
	}
	return "Default"
}

// NullGUID is the all-zero GUID that addresses the runspace pool rather
// than a pipeline.
var NullGUID = uuid.UUID{}

// Packet is the parsed form of one XML envelope.
type Packet struct {
	Tag     Tag
	PSGuid  uuid.UUID
	Stream  StreamType
	Payload []byte // raw (decoded) bytes; only meaningful when Tag == TagData
}

// ErrMalformedPacket is returned by Decode for any input that is not a
// well-formed envelope: missing PSGuid, invalid GUID, unknown tag, or
// invalid base64 payload.
var ErrMalformedPacket = errors.New("wireframe: malformed packet")

// EncodeData renders a <Data> packet carrying payload on the given stream,
// addressed to psGuid (NullGUID for the runspace pool). The result always
// ends in exactly one line-feed.
func EncodeData(payload []byte, stream StreamType, psGuid uuid.UUID) []byte {
	var buf bytes.Buffer
	buf.WriteString("<Data Stream='")
	buf.WriteString(stream.String())
	buf.WriteString("' PSGuid='")
	buf.WriteString(psGuid.String())
	buf.WriteString("'>")
	buf.WriteString(base64.StdEncoding.EncodeToString(payload))
	buf.WriteString("</Data>\n")
	return buf.Bytes()
}

// EncodeGUIDPacket renders a self-closing guid-only packet such as
// <CommandAck PSGuid='...' />.
func EncodeGUIDPacket(tag Tag, psGuid uuid.UUID) []byte {
	return []byte(fmt.Sprintf("<%s PSGuid='%s' />\n", tag, psGuid.String()))
}

// Decode parses one complete envelope element (without its trailing
// newline). It fails with ErrMalformedPacket if the tag is unrecognized,
// the PSGuid attribute is missing or not a valid GUID, or (for Data
// packets) the body is not valid base64.
func Decode(raw []byte) (Packet, error) {
	tag, ok := extractTag(raw)
	if !ok {
		return Packet{}, fmt.Errorf("%w: no recognizable tag", ErrMalformedPacket)
	}

	guidStr, ok := extractAttr(raw, "PSGuid")
	if !ok {
		return Packet{}, fmt.Errorf("%w: missing PSGuid attribute", ErrMalformedPacket)
	}
	psGuid, err := uuid.Parse(guidStr)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: invalid PSGuid %q: %v", ErrMalformedPacket, guidStr, err)
	}

	pkt := Packet{Tag: tag, PSGuid: psGuid}

	if tag == TagData {
		streamStr, _ := extractAttr(raw, "Stream")
		if streamStr == "PromptResponse" {
			pkt.Stream = StreamPromptResponse
		} else {
			pkt.Stream = StreamDefault
		}

		body, ok := extractText(raw)
		if ok && len(body) > 0 {
			decoded, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				return Packet{}, fmt.Errorf("%w: invalid base64 payload: %v", ErrMalformedPacket, err)
			}
			pkt.Payload = decoded
		}
	}

	return pkt, nil
}

var knownTags = []Tag{
	TagCommandAck, TagDataAck, TagCloseAck, TagSignalAck,
	TagData, TagCommand, TagClose, TagSignal,
}

// extractTag finds the first element name in raw. Longer tag names
// (CommandAck) are checked before their prefixes (Command) so "<Command"
// doesn't shadow "<CommandAck".
func extractTag(raw []byte) (Tag, bool) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return "", false
	}
	for _, tag := range knownTags {
		prefix := append([]byte{'<'}, []byte(tag)...)
		if bytes.HasPrefix(trimmed, prefix) {
			next := trimmed[len(prefix):]
			if len(next) > 0 && (next[0] == ' ' || next[0] == '>' || next[0] == '/') {
				return tag, true
			}
		}
	}
	return "", false
}

// extractAttr returns the value of attribute name from the opening tag of
// raw, handling both ' and " quoting.
func extractAttr(raw []byte, name string) (string, bool) {
	needle := []byte(name + "='")
	if idx := bytes.Index(raw, needle); idx >= 0 {
		start := idx + len(needle)
		end := bytes.IndexByte(raw[start:], '\'')
		if end < 0 {
			return "", false
		}
		return string(raw[start : start+end]), true
	}

	needle = []byte(name + "=\"")
	if idx := bytes.Index(raw, needle); idx >= 0 {
		start := idx + len(needle)
		end := bytes.IndexByte(raw[start:], '"')
		if end < 0 {
			return "", false
		}
		return string(raw[start : start+end]), true
	}

	return "", false
}

// extractText returns the text content between the end of the opening tag
// and the start of the closing tag, for non-self-closing elements.
func extractText(raw []byte) (string, bool) {
	openEnd := bytes.IndexByte(raw, '>')
	if openEnd < 0 {
		return "", false
	}
	// Self-closing: "... />" — no text content.
	if openEnd > 0 && raw[openEnd-1] == '/' {
		return "", false
	}
	closeStart := bytes.LastIndexByte(raw, '<')
	if closeStart <= openEnd {
		return "", false
	}
	return string(raw[openEnd+1 : closeStart]), true
}
