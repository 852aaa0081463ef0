package htmltext

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const maxMarkerLength = 120

// Block is one top-level element of a description fragment.
type Block struct {
	// Marker is the folded heading text when the block reads as a heading.
	Marker string
	Node   *html.Node
}

// Blocks flattens a description into its top-level elements, descending
// through single wrapper elements.
func Blocks(doc *goquery.Document) []Block {
	return BlocksOf(doc.Find("body"))
}

// BlocksOf flattens the children of root.
func BlocksOf(root *goquery.Selection) []Block {
	roots := root.Children()
	for roots.Length() == 1 && roots.Is("div,section,article,main") {
		roots = roots.Children()
	}
	blocks := make([]Block, 0, roots.Length())
	roots.Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, Block{Marker: marker(s), Node: s.Get(0)})
	})
	return blocks
}

// marker reports the heading text of s, or "" when s is body content.
// Headings are h1-h6, paragraphs that are entirely bold, and short
// paragraphs that end with a colon.
func marker(s *goquery.Selection) string {
	text := Clean(s.Text())
	if text == "" || len(text) > maxMarkerLength {
		return ""
	}
	switch {
	case s.Is("h1,h2,h3,h4,h5,h6"):
	case s.Is("p,div") && Clean(s.Find("strong,b").Text()) == text:
	case s.Is("p") && strings.HasSuffix(text, ":"):
	default:
		return ""
	}
	return foldMarker(text)
}

// Splitter divides a description into narrative and requirement text using
// heading markers. Markers match heading prefixes, case-insensitively.
type Splitter struct {
	Required  []string
	Preferred []string
	End       []string
	// KeepTail appends the blocks after an End marker to the description.
	KeepTail bool
}

// Split returns the description and requirements text. Requirements are
// labeled Required/Preferred when a preferred marker splits them.
func (sp Splitter) Split(blocks []Block) (description string, requirements string) {
	start := indexOf(blocks, 0, sp.Required)
	if start < 0 {
		return renderBlocks(blocks), ""
	}
	end := indexOf(blocks, start+1, sp.End)
	if end < 0 {
		end = len(blocks)
	}
	descParts := []string{renderBlocks(blocks[:start])}
	if sp.KeepTail && end < len(blocks) {
		descParts = append(descParts, renderBlocks(blocks[end:]))
	}
	description = joinNonEmpty(descParts)

	req := blocks[start:end]
	nice := indexOf(req, 1, sp.Preferred)
	if nice < 0 {
		return description, renderBlocks(req)
	}
	requirements = Join(
		Labeled{Label: "Required:\n", Text: renderBlocks(req[:nice])},
		Labeled{Label: "Preferred:\n", Text: renderBlocks(req[nice:])},
	)
	return description, requirements
}

func indexOf(blocks []Block, from int, markers []string) int {
	for i := from; i < len(blocks); i++ {
		if blocks[i].Marker == "" {
			continue
		}
		for _, m := range markers {
			if strings.HasPrefix(blocks[i].Marker, foldMarker(m)) {
				return i
			}
		}
	}
	return -1
}

func renderBlocks(blocks []Block) string {
	nodes := make([]*html.Node, 0, len(blocks))
	for _, b := range blocks {
		nodes = append(nodes, b.Node)
	}
	return TextNodes(nodes)
}

func joinNonEmpty(parts []string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
