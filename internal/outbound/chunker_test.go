package outbound

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	chunks := SplitText("hello", 10)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("expected single chunk, got %q", chunks)
	}
}

func TestSplitTextEmpty(t *testing.T) {
	chunks := SplitText("", 10)
	if len(chunks) != 1 || chunks[0] != "" {
		t.Fatalf("empty text must yield one empty chunk, got %q", chunks)
	}
}

func TestSplitTextNewlinePreference(t *testing.T) {
	chunks := SplitText("abcde\nfghijklmnop", 10)
	want := []string{"abcde\n", "fghijklmno", "p"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %q", len(want), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d: expected %q, got %q", i, want[i], chunks[i])
		}
	}
}

func TestSplitTextHardBreak(t *testing.T) {
	text := strings.Repeat("a", 5000)
	chunks := SplitText(text, 4096)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if utf8.RuneCountInString(chunks[0]) != 4096 || utf8.RuneCountInString(chunks[1]) != 904 {
		t.Fatalf("unexpected chunk sizes %d/%d",
			utf8.RuneCountInString(chunks[0]), utf8.RuneCountInString(chunks[1]))
	}
}

func TestSplitTextCountsRunesNotBytes(t *testing.T) {
	// Each rune below is multi-byte; a byte-based split would tear them.
	text := strings.Repeat("\U0001F600", 7) // 4 bytes each
	chunks := SplitText(text, 3)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, chunk)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks do not reassemble the original text")
	}
}

func TestSplitTextRoundTripAndCap(t *testing.T) {
	texts := []string{
		"line one\nline two\nline three\nand a much longer tail without breaks",
		strings.Repeat("word ", 100),
		"δοκιμή με ελληνικά και μια νέα γραμμή\nκαι άλλο κείμενο μετά",
	}
	for _, text := range texts {
		chunks := SplitText(text, 16)
		if strings.Join(chunks, "") != text {
			t.Fatalf("chunks do not reassemble %q", text)
		}
		for i, chunk := range chunks {
			if utf8.RuneCountInString(chunk) > 16 {
				t.Fatalf("chunk %d exceeds cap: %q", i, chunk)
			}
		}
	}
}

func TestSplitTextZeroLimitUsesDefault(t *testing.T) {
	text := strings.Repeat("a", DefaultChunkLimit+1)
	chunks := SplitText(text, 0)
	if len(chunks) != 2 {
		t.Fatalf("expected default cap split into 2, got %d", len(chunks))
	}
}
