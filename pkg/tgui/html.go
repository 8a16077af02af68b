// Package tgui holds small helpers for building Telegram messages in HTML
// parse mode.
package tgui

import (
	"fmt"
	"html"
)

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H should be treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Link builds an HTML link. Both the label and the URL are escaped.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

func B(s string) H { return "<b>" + Esc(s) + "</b>" }
func I(s string) H { return "<i>" + Esc(s) + "</i>" }
