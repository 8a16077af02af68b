// Package post renders a VK wall post into Telegram-ready HTML and splits it
// into messages that fit the platform limits. Everything here is pure.
package post

import (
	"fmt"
	"regexp"
	"strings"

	"repostbot/internal/vk"
	"repostbot/pkg/tgui"
)

// Telegram caps message text at 4096 and media captions at 1024 UTF-16 code
// units. The budgets below leave headroom for HTML entity expansion.
const (
	TextLimit    = 4000
	CaptionLimit = 1000
)

// Rendered is one post prepared for delivery: a single HTML text blob plus
// the ordered photo attachments. It is computed once per channel per pass and
// shared by every subscriber.
type Rendered struct {
	Text  string
	Media []string
}

// inlineLink matches VK's native link markup "[token|label]". Anything
// malformed (no pipe, no closing bracket) stays literal text.
var inlineLink = regexp.MustCompile(`\[([^\[\]|]+)\|([^\[\]]*)\]`)

// Render builds the Telegram representation of a wall post.
//
// Layout: permalink header wrapping the channel title, the post text with VK
// inline links rewritten to HTML, one link line per video, the external link
// preview line. Photos (and the preview photo, if any) become media.
func Render(p vk.Post, channelTitle string) Rendered {
	var b strings.Builder
	permalink := fmt.Sprintf("https://vk.com/wall%d_%d", p.OwnerID, p.ID)
	b.WriteString(tgui.Link(channelTitle, permalink).String())
	b.WriteString("\n\n")

	if p.Text != "" {
		b.WriteString(rewriteInlineLinks(p.Text))
		b.WriteString("\n")
	}

	for _, v := range p.Videos {
		b.WriteString(tgui.Link(v.Title, v.URL).String())
		b.WriteString("\n")
	}

	media := append([]string(nil), p.Photos...)

	if p.Link != nil {
		b.WriteString(tgui.Link(p.Link.Title, p.Link.URL).String())
		b.WriteString("\n")
		if p.Link.Photo != "" {
			media = append(media, p.Link.Photo)
		}
	}

	return Rendered{Text: b.String(), Media: media}
}

// Chunks splits the rendered text under the transport limits. When media is
// attached the first chunk rides as the caption, which has the stricter cap.
func (r Rendered) Chunks() []string {
	if len(r.Media) > 0 {
		return Split(r.Text, CaptionLimit, TextLimit)
	}
	return Split(r.Text, TextLimit, TextLimit)
}

// rewriteInlineLinks converts "[token|label]" spans into HTML links to
// https://vk.com/<token> and escapes everything in between.
func rewriteInlineLinks(text string) string {
	var b strings.Builder
	last := 0
	for _, m := range inlineLink.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(tgui.Esc(text[last:m[0]]).String())
		token := text[m[2]:m[3]]
		label := text[m[4]:m[5]]
		b.WriteString(tgui.Link(label, "https://vk.com/"+token).String())
		last = m[1]
	}
	b.WriteString(tgui.Esc(text[last:]).String())
	return b.String()
}
