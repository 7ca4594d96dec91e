// Package telephony speaks the Twilio Media Streams websocket protocol: inbound
// call audio events, outbound media/clear/mark messages and the TwiML that
// connects a call to the stream.
package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies Media Streams payload variants.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventDTMF      EventType = "dtmf"
	EventStop      EventType = "stop"
	EventClear     EventType = "clear"
)

const SampleRate = 8000

var ErrUnsupportedEvent = errors.New("unsupported event")

type Envelope struct {
	Event EventType `json:"event"`
}

type Connected struct {
	Event    EventType `json:"event"`
	Protocol string    `json:"protocol"`
	Version  string    `json:"version"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartInfo struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type Start struct {
	Event          EventType `json:"event"`
	SequenceNumber string    `json:"sequenceNumber"`
	StreamSID      string    `json:"streamSid"`
	Start          StartInfo `json:"start"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Media carries base64 mu-law audio in both directions.
type Media struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSID      string       `json:"streamSid"`
	Media          MediaPayload `json:"media"`
}

type MarkName struct {
	Name string `json:"name"`
}

type Mark struct {
	Event          EventType `json:"event"`
	SequenceNumber string    `json:"sequenceNumber,omitempty"`
	StreamSID      string    `json:"streamSid"`
	Mark           MarkName  `json:"mark"`
}

type DTMF struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
	DTMF      struct {
		Track string `json:"track"`
		Digit string `json:"digit"`
	} `json:"dtmf"`
}

type Stop struct {
	Event          EventType `json:"event"`
	SequenceNumber string    `json:"sequenceNumber"`
	StreamSID      string    `json:"streamSid"`
	Stop           struct {
		AccountSID string `json:"accountSid"`
		CallSID    string `json:"callSid"`
	} `json:"stop"`
}

// Clear asks Twilio to drop all audio it has buffered for the stream.
type Clear struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
}

func NewMedia(streamSID, payload string) Media {
	return Media{Event: EventMedia, StreamSID: streamSID, Media: MediaPayload{Payload: payload}}
}

func NewClear(streamSID string) Clear {
	return Clear{Event: EventClear, StreamSID: streamSID}
}

func NewMark(streamSID, name string) Mark {
	return Mark{Event: EventMark, StreamSID: streamSID, Mark: MarkName{Name: name}}
}

// ParseInbound decodes one message sent by Twilio.
func ParseInbound(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.StreamSID == "" {
			msg.StreamSID = msg.Start.StreamSID
		}
		if msg.StreamSID == "" {
			return nil, errors.New("invalid start: missing streamSid")
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventDTMF:
		var msg DTMF
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}
