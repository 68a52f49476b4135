package subtitles

import "testing"

func TestParseSRT_Basic(t *testing.T) {
	in := "1\n00:00:01,000 --> 00:00:03,500\n<i>Hello</i> there\nGeneral Kenobi\n\n" +
		"2\n00:01:02,250 --> 00:01:04,000\n{\\an8}You were the chosen one!\n"
	spans := ParseSRT(in)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d: %+v", len(spans), spans)
	}
	if spans[0].StartMs != 1000 || spans[0].EndMs != 3500 {
		t.Fatalf("unexpected first window: %+v", spans[0])
	}
	if spans[0].Text != "Hello there General Kenobi" {
		t.Fatalf("unexpected first text: %q", spans[0].Text)
	}
	if spans[1].StartMs != 62250 {
		t.Fatalf("unexpected second start: %d", spans[1].StartMs)
	}
	if spans[1].Text != "You were the chosen one!" {
		t.Fatalf("unexpected second text: %q", spans[1].Text)
	}
}

func TestParseSRT_SkipsMalformedBlocks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"missing index", "00:00:01,000 --> 00:00:02,000\nno index\nline", 0},
		{"bad timing", "1\n00:00:01 --> 00:00:02\ntext", 0},
		{"no text", "1\n00:00:01,000 --> 00:00:02,000", 0},
		{
			"one bad one good",
			"x\n00:00:01,000 --> 00:00:02,000\nbad\n\n2\n00:00:05,000 --> 00:00:06,000\ngood",
			1,
		},
		{"crlf", "1\r\n00:00:01,000 --> 00:00:02,000\r\nwindows\r\n\r\n", 1},
		{"markup only", "1\n00:00:01,000 --> 00:00:02,000\n<b></b>", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(ParseSRT(tt.in)); got != tt.want {
				t.Fatalf("expected %d spans, got %d", tt.want, got)
			}
		})
	}
}

func TestStripMarkup(t *testing.T) {
	got := StripMarkup("  <font color=\"red\">Run</font>   {\\i1}now{\\i0} ")
	if got != "Run now" {
		t.Fatalf("unexpected: %q", got)
	}
}
