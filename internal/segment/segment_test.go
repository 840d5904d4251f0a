package segment

import (
	"strings"
	"testing"
)

func texts(sents []Sentence) []string {
	out := make([]string, len(sents))
	for i, s := range sents {
		out[i] = s.Text
	}
	return out
}

func TestSegmentSplitsOnTerminalPunctuation(t *testing.T) {
	text := "Inception was a mind-bending heist film that ended well. " +
		"Cobb spun the top at the very end of the final scene! " +
		"Did the top ever stop spinning when the credits rolled?"

	got := Segmenter{MinLength: 20}.Segment(text)
	want := []string{
		"Inception was a mind-bending heist film that ended well.",
		"Cobb spun the top at the very end of the final scene!",
		"Did the top ever stop spinning when the credits rolled?",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %q, want %d", len(got), texts(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i].Text, want[i])
		}
	}
}

func TestSegmentOffsetsIndexSource(t *testing.T) {
	text := "  Leading space here and some words to pad it out.   Another sentence that is long enough to keep.  "
	for _, s := range (Segmenter{MinLength: 10}).Segment(text) {
		if text[s.Start:s.End] != s.Text {
			t.Errorf("text[%d:%d] = %q, want %q", s.Start, s.End, text[s.Start:s.End], s.Text)
		}
		if strings.TrimSpace(s.Text) != s.Text {
			t.Errorf("sentence not trimmed: %q", s.Text)
		}
	}
}

func TestSegmentKeepsDecimalsAndLowercaseContinuations(t *testing.T) {
	text := "The sequel earned 3.5 stars from critics, e.g. the ones at the paper. Then it flopped badly at the box office."
	got := Segmenter{MinLength: 10}.Segment(text)
	if len(got) != 2 {
		t.Fatalf("got %q, want 2 sentences", texts(got))
	}
	if !strings.HasPrefix(got[0].Text, "The sequel earned 3.5 stars") || !strings.HasSuffix(got[0].Text, "at the paper.") {
		t.Errorf("first sentence = %q", got[0].Text)
	}
}

func TestSegmentDropsShortAndUnterminated(t *testing.T) {
	text := "Too short. This trailing fragment has no terminal punctuation at all"
	if got := Segment(text); len(got) != 0 {
		t.Errorf("Segment = %q, want none", texts(got))
	}
}

func TestSegmentQuotedBoundaries(t *testing.T) {
	text := `He finally said "I am your father." "No, that is not true," Luke screamed at him in despair.`
	got := Segmenter{MinLength: 10}.Segment(text)
	if len(got) != 2 {
		t.Fatalf("got %q, want 2 sentences", texts(got))
	}
	if got[0].Text != `He finally said "I am your father."` {
		t.Errorf("first = %q", got[0].Text)
	}
}

func TestSegmentMultibyte(t *testing.T) {
	text := "Amélie était là and the café burned down in the last act. Zoë survived the fire but lost everything she had."
	got := Segmenter{MinLength: 10}.Segment(text)
	if len(got) != 2 {
		t.Fatalf("got %q, want 2", texts(got))
	}
	for _, s := range got {
		if text[s.Start:s.End] != s.Text {
			t.Errorf("offset mismatch for %q", s.Text)
		}
	}
}

func TestSegmentIsDeterministic(t *testing.T) {
	text := "Inception was a mind-bending heist film that ended with Cobb spinning a top."
	a := Segment(text)
	b := Segment(text)
	if len(a) != 1 || len(b) != 1 || a[0] != b[0] {
		t.Errorf("Segment not stable: %v vs %v", a, b)
	}
}
