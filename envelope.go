package sqlqueue

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

const (
	// HeaderDeferredUntil holds an RFC 3339 timestamp before which the message is not delivered.
	// It is consumed on send and not stored.
	HeaderDeferredUntil = "x-deferred-until"
	// HeaderTimeToBeReceived holds a Go duration after which an undelivered message expires.
	HeaderTimeToBeReceived = "x-time-to-be-received"
	// HeaderPriority holds a signed 32-bit priority. Higher values are delivered first.
	HeaderPriority = "x-priority"
)

// DefaultTimeToLive is applied when a message carries no HeaderTimeToBeReceived.
const DefaultTimeToLive = time.Duration(math.MaxInt32) * time.Second

// Envelope is a message as seen by transports: string headers and an opaque body.
type Envelope struct {
	Headers map[string]string
	Body    []byte
}

// Clone returns a copy that does not share the header map or body with e.
func (e Envelope) Clone() Envelope {
	out := Envelope{}
	if e.Headers != nil {
		out.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = v
		}
	}
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}

	return out
}

// Delivery holds the storage parameters derived from an envelope on send.
type Delivery struct {
	// Headers is the serialized header map, without HeaderDeferredUntil.
	Headers []byte
	Body    []byte
	// Priority defaults to zero.
	Priority int32
	// VisibleAfter is relative to the send time and may be negative.
	VisibleAfter time.Duration
	// TimeToLive is relative to the send time.
	TimeToLive time.Duration
}

// PrepareDelivery derives priority, visibility delay and time to live from the
// envelope headers. The envelope itself is not modified.
func PrepareDelivery(env Envelope, now time.Time) (Delivery, error) {
	headers := env.Clone().Headers
	if headers == nil {
		headers = map[string]string{}
	}

	priority, err := parsePriority(headers)
	if err != nil {
		return Delivery{}, err
	}
	visibleAfter, err := parseVisibleAfter(headers, now)
	if err != nil {
		return Delivery{}, err
	}
	ttl, err := parseTimeToLive(headers)
	if err != nil {
		return Delivery{}, err
	}

	// must run last, parseVisibleAfter strips its header
	encoded, err := EncodeHeaders(headers)
	if err != nil {
		return Delivery{}, err
	}

	body := env.Body
	if body == nil {
		body = []byte{}
	}

	return Delivery{
		Headers:      encoded,
		Body:         body,
		Priority:     priority,
		VisibleAfter: visibleAfter,
		TimeToLive:   ttl,
	}, nil
}

func parsePriority(headers map[string]string) (int32, error) {
	raw, ok := headers[HeaderPriority]
	if !ok {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidHeader, HeaderPriority, raw)
	}

	return int32(value), nil
}

func parseVisibleAfter(headers map[string]string, now time.Time) (time.Duration, error) {
	raw, ok := headers[HeaderDeferredUntil]
	if !ok {
		return 0, nil
	}
	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidHeader, HeaderDeferredUntil, raw)
	}
	delete(headers, HeaderDeferredUntil)

	return until.Sub(now), nil
}

func parseTimeToLive(headers map[string]string) (time.Duration, error) {
	raw, ok := headers[HeaderTimeToBeReceived]
	if !ok {
		return DefaultTimeToLive, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidHeader, HeaderTimeToBeReceived, raw)
	}

	return ttl, nil
}

// EncodeHeaders serializes a header map as a JSON object of strings.
// Keys and values must be valid UTF-8, otherwise ErrInvalidHeader is returned.
func EncodeHeaders(headers map[string]string) ([]byte, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	for key, value := range headers {
		if !utf8.ValidString(key) || !utf8.ValidString(value) {
			return nil, fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidHeader, key)
		}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: encode headers: %w", err)
	}

	return data, nil
}

// DecodeHeaders parses headers written by EncodeHeaders.
// Anything that is not a JSON object of strings yields ErrMalformedHeaders.
func DecodeHeaders(data []byte) (map[string]string, error) {
	var headers map[string]string
	if err := json.Unmarshal(data, &headers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeaders, err)
	}
	if headers == nil {
		return nil, fmt.Errorf("%w: null header object", ErrMalformedHeaders)
	}

	return headers, nil
}
