package graph

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// htmlToText flattens a Teams HTML message body into plain text. Text nodes
// are joined with single spaces, so "<div>push <at id=\"0\">Bot</at> now</div>"
// becomes "push Bot now".
func htmlToText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return collapseWhitespace(body)
	}
	var b strings.Builder
	for _, n := range doc.Selection.Nodes {
		collectText(n, &b)
	}
	return collapseWhitespace(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
