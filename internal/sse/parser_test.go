package sse

import (
	"reflect"
	"testing"
)

const sampleStream = "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
	"data: [DONE]\n\n"

func TestFeedWholeStream(t *testing.T) {
	p := NewParser()
	deltas := p.Feed([]byte(sampleStream))
	if !reflect.DeepEqual(deltas, []string{"He", "llo"}) {
		t.Fatalf("unexpected deltas %#v", deltas)
	}
	if !p.Done() {
		t.Fatalf("expected done sentinel to be recorded")
	}
}

func TestFeedSplitAnywhere(t *testing.T) {
	want := []string{"He", "llo"}
	raw := []byte(sampleStream)

	for cut := 1; cut < len(raw); cut++ {
		p := NewParser()
		got := append(p.Feed(raw[:cut]), p.Feed(raw[cut:])...)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %#v, want %#v", cut, got, want)
		}
	}
}

func TestFeedByteByByte(t *testing.T) {
	p := NewParser()
	var got []string
	for _, b := range []byte(sampleStream) {
		got = append(got, p.Feed([]byte{b})...)
	}
	if !reflect.DeepEqual(got, []string{"He", "llo"}) {
		t.Fatalf("unexpected deltas %#v", got)
	}
}

func TestMalformedFrameBetweenValidOnes(t *testing.T) {
	p := NewParser()
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {not json\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n"
	deltas := p.Feed([]byte(stream))
	if !reflect.DeepEqual(deltas, []string{"a", "b"}) {
		t.Fatalf("unexpected deltas %#v", deltas)
	}
}

func TestIgnoresNonDataAndEmptyContent(t *testing.T) {
	p := NewParser()
	stream := ": keep-alive\n" +
		"event: ping\n" +
		"data: {\"choices\":[]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":42}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\r\n"
	deltas := p.Feed([]byte(stream))
	if !reflect.DeepEqual(deltas, []string{"ok"}) {
		t.Fatalf("unexpected deltas %#v", deltas)
	}
}

func TestResetClearsCarriedBuffer(t *testing.T) {
	p := NewParser()
	if deltas := p.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"par")); deltas != nil {
		t.Fatalf("incomplete line should yield nothing, got %#v", deltas)
	}
	p.Reset()
	deltas := p.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"))
	if !reflect.DeepEqual(deltas, []string{"x"}) {
		t.Fatalf("unexpected deltas after reset %#v", deltas)
	}
	if p.Done() {
		t.Fatalf("done flag should be cleared by reset")
	}
}
