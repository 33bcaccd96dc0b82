package models

import (
	"strings"
	"testing"
)

func TestSegmentsFor(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		maxBodyChars int
		expected     int
	}{
		{"empty body", "", 320, 1},
		{"short body", "Hello", 320, 1},
		{"exactly one segment", make160("a"), 320, 1},
		{"two segments", make160("a") + make160("b") + "x", 320, 2},
		{"zero max treated as 1", "anything", 0, 1},
		{"320 persian runes is one segment despite 640 utf-8 bytes", strings.Repeat("پ", 320), 320, 1},
		{"321 persian runes is two segments", strings.Repeat("پ", 321), 320, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SegmentsFor(tt.body, tt.maxBodyChars)
			if got != tt.expected {
				t.Errorf("SegmentsFor(%q, %d) = %d, expected %d", tt.name, tt.maxBodyChars, got, tt.expected)
			}
		})
	}
}

func TestEffectiveBody(t *testing.T) {
	rewritten := "Short version"
	e := &SmsEvent{Body: "Original long version", RewrittenBody: &rewritten}
	if got := e.EffectiveBody(); got != rewritten {
		t.Errorf("EffectiveBody() = %q, expected rewritten body %q", got, rewritten)
	}

	e2 := &SmsEvent{Body: "Original"}
	if got := e2.EffectiveBody(); got != "Original" {
		t.Errorf("EffectiveBody() = %q, expected original body", got)
	}
}

func TestProcessingID(t *testing.T) {
	e := &SmsEvent{ID: 42}
	if got := e.ProcessingID(); got != "event:42" {
		t.Errorf("ProcessingID() = %q, expected event:42", got)
	}

	pmid := "abc123"
	e.ProviderMessageID = &pmid
	if got := e.ProcessingID(); got != pmid {
		t.Errorf("ProcessingID() = %q, expected provider message id %q", got, pmid)
	}
}

func make160(ch string) string {
	out := make([]byte, 160)
	for i := range out {
		out[i] = ch[0]
	}
	return string(out)
}
