package sqlqueue

import (
	"errors"
	"testing"
	"time"
)

func TestPrepareDelivery(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name         string
		headers      map[string]string
		priority     int32
		visibleAfter time.Duration
		ttl          time.Duration
		err          error
	}{
		{
			name: "defaults",
			ttl:  DefaultTimeToLive,
		},
		{
			name:     "priority",
			headers:  map[string]string{HeaderPriority: "-7"},
			priority: -7,
			ttl:      DefaultTimeToLive,
		},
		{
			name:         "deferred",
			headers:      map[string]string{HeaderDeferredUntil: now.Add(90 * time.Second).Format(time.RFC3339Nano)},
			visibleAfter: 90 * time.Second,
			ttl:          DefaultTimeToLive,
		},
		{
			name:         "deferred into the past",
			headers:      map[string]string{HeaderDeferredUntil: now.Add(-time.Minute).Format(time.RFC3339)},
			visibleAfter: -time.Minute,
			ttl:          DefaultTimeToLive,
		},
		{
			name:    "time to be received",
			headers: map[string]string{HeaderTimeToBeReceived: "2s"},
			ttl:     2 * time.Second,
		},
		{
			name:    "priority out of range",
			headers: map[string]string{HeaderPriority: "2147483648"},
			err:     ErrInvalidHeader,
		},
		{
			name:    "invalid deferral",
			headers: map[string]string{HeaderDeferredUntil: "tomorrow"},
			err:     ErrInvalidHeader,
		},
		{
			name:    "invalid time to be received",
			headers: map[string]string{HeaderTimeToBeReceived: "soon"},
			err:     ErrInvalidHeader,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			delivery, err := PrepareDelivery(Envelope{Headers: tc.headers, Body: []byte("b")}, now)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if delivery.Priority != tc.priority {
				t.Fatalf("priority = %d, want %d", delivery.Priority, tc.priority)
			}
			if delivery.VisibleAfter != tc.visibleAfter {
				t.Fatalf("visible after = %s, want %s", delivery.VisibleAfter, tc.visibleAfter)
			}
			if delivery.TimeToLive != tc.ttl {
				t.Fatalf("ttl = %s, want %s", delivery.TimeToLive, tc.ttl)
			}
		})
	}
}

func TestPrepareDeliveryStripsDeferredHeader(t *testing.T) {
	now := time.Now().UTC()
	env := Envelope{Headers: map[string]string{
		HeaderDeferredUntil: now.Add(time.Hour).Format(time.RFC3339Nano),
		HeaderPriority:      "3",
		"k":                 "v",
	}}

	delivery, err := PrepareDelivery(env, now)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	headers, err := DecodeHeaders(delivery.Headers)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := headers[HeaderDeferredUntil]; ok {
		t.Fatalf("deferred header must not be stored")
	}
	if headers[HeaderPriority] != "3" || headers["k"] != "v" {
		t.Fatalf("unexpected stored headers: %v", headers)
	}
	if _, ok := env.Headers[HeaderDeferredUntil]; !ok {
		t.Fatalf("caller envelope must not be modified")
	}
	if delivery.Body == nil {
		t.Fatalf("nil body must be stored as empty")
	}
}

func TestDecodeHeadersRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "null", "[]", `{"a":1}`, "{"} {
		if _, err := DecodeHeaders([]byte(raw)); !errors.Is(err, ErrMalformedHeaders) {
			t.Fatalf("%q: expected ErrMalformedHeaders, got %v", raw, err)
		}
	}
}

func TestEnvelopeClone(t *testing.T) {
	env := Envelope{Headers: map[string]string{"a": "1"}, Body: []byte("body")}
	clone := env.Clone()
	clone.Headers["a"] = "2"
	clone.Body[0] = 'B'

	if env.Headers["a"] != "1" || string(env.Body) != "body" {
		t.Fatalf("clone shares state with original: %+v", env)
	}
}

func TestHeadersMustBeValidUTF8(t *testing.T) {
	now := time.Now()
	for _, headers := range []map[string]string{
		{"k": "\xff\xfe"},
		{"\xc3\x28": "v"},
	} {
		if _, err := PrepareDelivery(Envelope{Headers: headers}, now); !errors.Is(err, ErrInvalidHeader) {
			t.Fatalf("%q: expected ErrInvalidHeader from PrepareDelivery, got %v", headers, err)
		}
		if _, err := EncodeHeaders(headers); !errors.Is(err, ErrInvalidHeader) {
			t.Fatalf("%q: expected ErrInvalidHeader from EncodeHeaders, got %v", headers, err)
		}
	}

	headers := map[string]string{"greeting": "héllo ✓"}
	data, err := EncodeHeaders(headers)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeHeaders(data)
	if err != nil || decoded["greeting"] != headers["greeting"] {
		t.Fatalf("unexpected round trip %q, %v", decoded, err)
	}
}
