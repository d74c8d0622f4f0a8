package provider

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NewBodyVariants builds the canonical body forms, deriving a plain-text
// variant from HTML when the provider returned none.
func NewBodyVariants(text, html string) *BodyVariants {
	if text == "" && html != "" {
		text = htmlToText(html)
	}
	return &BodyVariants{
		Text: text,
		HTML: html,
		Size: int64(len(text) + len(html)),
	}
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Text())
}
