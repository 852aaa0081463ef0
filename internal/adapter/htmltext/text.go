// Package htmltext turns career-page HTML into the plain text stored on
// postings.
package htmltext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse builds a goquery document from raw page bytes.
func Parse(raw []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ParseFragment parses an HTML snippet such as a JSON-LD description.
func ParseFragment(fragment string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parse html fragment: %w", err)
	}
	return doc, nil
}

// Text renders a selection as plain text. Block elements start new lines and
// list items are prefixed with "- ".
func Text(sel *goquery.Selection) string {
	if sel == nil {
		return ""
	}
	return TextNodes(sel.Nodes)
}

// TextNodes renders nodes in order as plain text.
func TextNodes(nodes []*html.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		render(&b, n)
	}
	return normalize(b.String())
}

// FragmentText renders an HTML snippet as plain text.
func FragmentText(fragment string) string {
	doc, err := ParseFragment(fragment)
	if err != nil {
		return ""
	}
	return Text(doc.Find("body"))
}

func render(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Br:
			b.WriteString("\n")
			return
		case atom.Li:
			b.WriteString("\n- ")
		default:
			if isBlock(n) {
				b.WriteString("\n")
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(b, c)
	}
	if n.Type == html.ElementNode && n.DataAtom != atom.Li && isBlock(n) {
		b.WriteString("\n")
	}
}

func isBlock(n *html.Node) bool {
	switch n.DataAtom {
	case atom.P:
		// <li><p>text</p></li> renders as a single bullet.
		return n.Parent == nil || n.Parent.DataAtom != atom.Li
	case atom.Div, atom.Section, atom.Article, atom.Main, atom.Header, atom.Footer,
		atom.Ul, atom.Ol, atom.Li, atom.Table, atom.Tr, atom.Blockquote, atom.Pre,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Hr:
		return true
	default:
		return false
	}
}

// normalize collapses whitespace inside lines, keeps at most one blank line
// between paragraphs and none before list items.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || line == "-" {
			blank = len(out) > 0
			continue
		}
		if blank && !strings.HasPrefix(line, "- ") {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Clean collapses all whitespace in s to single spaces.
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
