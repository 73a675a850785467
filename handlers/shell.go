package handlers

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

//go:embed shell.html
var shellHTML []byte

// RenderShell returns the HTML page whose script repeatedly requests
// ?imageonly=1. The title is set on <title> and <h1>, and the initial image
// source carries a cache-busting timestamp.
func RenderShell(title string, now time.Time) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(shellHTML))
	if err != nil {
		return nil, fmt.Errorf("could not parse HTML shell: %w", err)
	}

	doc.Find("title").SetText(title)
	doc.Find("h1").First().SetText(title)
	doc.Find("#randomImage").SetAttr("src", fmt.Sprintf("?imageonly=1&t=%d", now.Unix()))

	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("could not render HTML shell: %w", err)
	}
	return []byte(html), nil
}
