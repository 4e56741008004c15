package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ChannelL4Book is the websocket channel carrying L4 book frames.
const ChannelL4Book = "l4Book"

// Envelope wraps every websocket message.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Subscription is the request sent to open an L4 book stream.
type Subscription struct {
	Method       string            `json:"method"`
	Subscription SubscriptionTopic `json:"subscription"`
}

type SubscriptionTopic struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// Subscribe builds the subscribe request for market.
func Subscribe(market string) Subscription {
	return Subscription{
		Method:       "subscribe",
		Subscription: SubscriptionTopic{Type: ChannelL4Book, Coin: market},
	}
}

// Unsubscribe builds the matching unsubscribe request.
func Unsubscribe(market string) Subscription {
	s := Subscribe(market)
	s.Method = "unsubscribe"
	return s
}

// ErrMalformedFrame marks an L4 message that could not be decoded. The
// frame is lost, so the book it belongs to has a gap.
var ErrMalformedFrame = errors.New("malformed l4 frame")

var l4ChannelTag = []byte(`"channel":"` + ChannelL4Book + `"`)

// DecodeMessage decodes a websocket or capture line. Messages on other
// channels (subscription acks, pongs) return ok=false. Lines without a
// channel are treated as bare frames. Errors wrap ErrMalformedFrame when the
// message was an L4 frame, so callers can tell a lost frame from noise.
func DecodeMessage(raw []byte) (frame Frame, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Frame{}, false, fmt.Errorf("message is not a JSON object")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if bytes.Contains(raw, l4ChannelTag) {
			return Frame{}, false, fmt.Errorf("%w: envelope: %w", ErrMalformedFrame, err)
		}
		return Frame{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	payload := raw
	if env.Channel != "" {
		if env.Channel != ChannelL4Book {
			return Frame{}, false, nil
		}
		payload = env.Data
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Frame{}, false, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return frame, true, nil
}
