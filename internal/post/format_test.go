package post

import (
	"strings"
	"testing"

	"repostbot/internal/vk"
)

func TestRenderHeader(t *testing.T) {
	r := Render(vk.Post{ID: 45, OwnerID: -123}, "Eastwind")
	want := `<a href="https://vk.com/wall-123_45">Eastwind</a>`
	if !strings.HasPrefix(r.Text, want+"\n\n") {
		t.Fatalf("header missing:\n%q", r.Text)
	}
}

func TestRenderInlineLinks(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"[eastwind|Our blog]", `<a href="https://vk.com/eastwind">Our blog</a>`},
		{"[vk.com|Example]text", `<a href="https://vk.com/vk.com">Example</a>text`},
	}
	for _, tc := range tests {
		r := Render(vk.Post{Text: tc.text}, "g")
		if !strings.Contains(r.Text, tc.want) {
			t.Fatalf("Render(%q) = %q, want substring %q", tc.text, r.Text, tc.want)
		}
	}
}

func TestRenderMalformedMarkupStaysLiteral(t *testing.T) {
	for _, text := range []string{"[no closing", "[nopipe]", "plain ] text ["} {
		r := Render(vk.Post{Text: text}, "g")
		// The permalink header is the only link.
		if got := strings.Count(r.Text, "<a href="); got != 1 {
			t.Fatalf("malformed markup %q produced %d links: %q", text, got, r.Text)
		}
		if !strings.Contains(r.Text, text) {
			t.Fatalf("literal text lost for %q: %q", text, r.Text)
		}
	}
}

func TestRenderEscapesText(t *testing.T) {
	r := Render(vk.Post{Text: "a <b> & c"}, "g")
	if !strings.Contains(r.Text, "a &lt;b&gt; &amp; c") {
		t.Fatalf("text not escaped: %q", r.Text)
	}
}

func TestRenderVideosAndLink(t *testing.T) {
	p := vk.Post{
		Text:   "body",
		Photos: []string{"https://img/1.jpg", "https://img/2.jpg"},
		Videos: []vk.Video{{URL: "https://vk.com/video-1_2", Title: "clip"}},
		Link:   &vk.Link{URL: "https://example.com", Title: "site", Photo: "https://img/preview.jpg"},
	}
	r := Render(p, "g")

	if !strings.Contains(r.Text, `<a href="https://vk.com/video-1_2">clip</a>`) {
		t.Fatalf("video line missing: %q", r.Text)
	}
	if !strings.Contains(r.Text, `<a href="https://example.com">site</a>`) {
		t.Fatalf("external link line missing: %q", r.Text)
	}
	wantMedia := []string{"https://img/1.jpg", "https://img/2.jpg", "https://img/preview.jpg"}
	if len(r.Media) != len(wantMedia) {
		t.Fatalf("media = %v, want %v", r.Media, wantMedia)
	}
	for i := range wantMedia {
		if r.Media[i] != wantMedia[i] {
			t.Fatalf("media[%d] = %q, want %q", i, r.Media[i], wantMedia[i])
		}
	}
}

func TestChunksUsesCaptionLimitWithMedia(t *testing.T) {
	long := strings.Repeat("word ", 600) // well past the caption limit

	withMedia := Rendered{Text: long, Media: []string{"u"}}
	if got := withMedia.Chunks(); len(got[0]) > CaptionLimit {
		t.Fatalf("caption chunk too long: %d", len(got[0]))
	}

	plain := Rendered{Text: long}
	if got := plain.Chunks(); len(got[0]) <= CaptionLimit {
		t.Fatalf("plain text should use the wider first limit, got %d", len(got[0]))
	}
}
