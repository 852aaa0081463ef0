package htmltext

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Section is a heading and the text that follows it up to the next heading
// of the same tag.
type Section struct {
	Heading string
	Body    string
}

// Sections collects every heading matching tag (for example "h2") in doc.
func Sections(doc *goquery.Document, tag string) []Section {
	var sections []Section
	doc.Find(tag).Each(func(_ int, h *goquery.Selection) {
		heading := Clean(h.Text())
		if heading == "" {
			return
		}
		sections = append(sections, Section{
			Heading: heading,
			Body:    TextNodes(following(h, tag)),
		})
	})
	return sections
}

// following returns the siblings after h up to the next heading. When h is
// the last child of a wrapper element the walk continues from the wrapper.
func following(h *goquery.Selection, tag string) []*html.Node {
	cur := h
	for cur.Next().Length() == 0 {
		parent := cur.Parent()
		if parent.Length() == 0 || parent.Is("body") {
			return nil
		}
		cur = parent
	}
	var nodes []*html.Node
	for s := cur.Next(); s.Length() > 0; s = s.Next() {
		if s.Is(tag) || s.Find(tag).Length() > 0 {
			break
		}
		nodes = append(nodes, s.Nodes...)
	}
	return nodes
}

// Lookup returns the body of the first section whose heading starts with
// prefix, ignoring case and typographic apostrophes.
func Lookup(sections []Section, prefix string) string {
	want := foldMarker(prefix)
	for _, s := range sections {
		if strings.HasPrefix(foldMarker(s.Heading), want) {
			return s.Body
		}
	}
	return ""
}

func foldMarker(s string) string {
	s = strings.ToLower(Clean(s))
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	return strings.TrimSpace(strings.TrimRight(s, ":"))
}

// Labeled is one optional piece of a composed field.
type Labeled struct {
	Label string
	Text  string
}

// Join concatenates the non-empty parts, each preceded by its label, with a
// blank line between parts.
func Join(parts ...Labeled) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		out = append(out, p.Label+p.Text)
	}
	return strings.Join(out, "\n\n")
}
