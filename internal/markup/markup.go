// Package markup scrapes ALLRIS detail pages: element lookup by id and
// conversion of a whole page to readable text.
package markup

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// ElementText returns the concatenated text of the element with the given
// id, whitespace-trimmed. It returns "" if the page cannot be parsed or the
// element does not exist.
func ElementText(page, id string) string {
	if page == "" || id == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	n := findNodeByID(doc, id)
	if n == nil {
		return ""
	}
	var b strings.Builder
	collectText(n, &b)
	return strings.TrimSpace(b.String())
}

func findNodeByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNodeByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// LocationExtractor pulls the refined location out of a detail page.
type LocationExtractor struct {
	// ID of the element holding the location, "location" on ALLRIS pages.
	ID string
}

// Location returns the trimmed text of the location element, or "".
func (l LocationExtractor) Location(page string) string {
	return ElementText(page, l.ID)
}

// TextConverter renders a detail page as Markdown, which reads as plain
// text in calendar clients.
type TextConverter struct{}

// Text converts page to Markdown with surrounding whitespace removed.
func (TextConverter) Text(page string) (string, error) {
	md, err := htmltomarkdown.ConvertString(page)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}
