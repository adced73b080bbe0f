package telephony

import "strconv"

// Media Streams event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventClear     = "clear"
	EventDTMF      = "dtmf"
)

// Track names carried on inbound media.
const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

// EncodingMulaw is the only media encoding the bridge accepts.
const EncodingMulaw = "audio/x-mulaw"

// message is the envelope shared by every Media Streams event.
type message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *startPayload `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Mark           *markPayload  `json:"mark,omitempty"`
	Stop           *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// MediaFormat describes the encoding of the inbound audio.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartInfo is the correlation data delivered by the start event.
type StartInfo struct {
	StreamSID    string
	CallSID      string
	AccountSID   string
	Tracks       []string
	MediaFormat  MediaFormat
	CustomParams map[string]string
}

func (p *startPayload) info(envelopeSID string) StartInfo {
	sid := p.StreamSID
	if sid == "" {
		sid = envelopeSID
	}
	return StartInfo{
		StreamSID:    sid,
		CallSID:      p.CallSID,
		AccountSID:   p.AccountSID,
		Tracks:       p.Tracks,
		MediaFormat:  p.MediaFormat,
		CustomParams: p.CustomParameters,
	}
}

// outbound messages

type outboundMedia struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     outboundAudio `json:"media"`
}

type outboundAudio struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// parseUint reads the decimal strings the transport uses for counters and
// millisecond timestamps. Missing or malformed values read as zero.
func parseUint(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
