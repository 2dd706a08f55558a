package helpers

import "testing"

func TestFormatCitation(t *testing.T) {
	t.Parallel()
	got := FormatCitation(2, Citation{Title: "EV  Market\nOutlook", URL: "https://www.example.com:443/ev"})
	want := "[2] EV Market Outlook (www.example.com) <https://www.example.com:443/ev>"
	if got != want {
		t.Fatalf("FormatCitation() = %q, want %q", got, want)
	}
	if got := FormatCitation(1, Citation{URL: "https://example.com/x"}); got != "[1] example.com <https://example.com/x>" {
		t.Fatalf("untitled citation = %q", got)
	}
}

func TestSourcesBlock(t *testing.T) {
	t.Parallel()
	got := SourcesBlock([]Citation{
		{Title: "A", URL: "https://a.example/p?utm_source=x"},
		{Title: "no link"},
		{Title: "A again", URL: "https://a.example/p"},
		{Title: "B", URL: "https://b.example/"},
	})
	want := "Sources:\n[1] A (a.example) <https://a.example/p?utm_source=x>\n[2] B (b.example) <https://b.example/>"
	if got != want {
		t.Fatalf("SourcesBlock() = %q, want %q", got, want)
	}
	if SourcesBlock(nil) != "" {
		t.Fatalf("expected empty block")
	}
}
