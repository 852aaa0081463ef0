package htmltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentText(t *testing.T) {
	t.Parallel()

	got := FragmentText(`<div><p>Build  systems.</p><ul><li>Go</li><li><p>SQL</p></li></ul><p>Thanks&amp; bye</p></div>`)
	assert.Equal(t, "Build systems.\n- Go\n- SQL\n\nThanks& bye", got)
}

func TestTextSkipsScripts(t *testing.T) {
	t.Parallel()

	got := FragmentText(`<p>Visible<br>next</p><script>var x = 1;</script><style>p{}</style>`)
	assert.Equal(t, "Visible\nnext", got)
}

func TestSectionsAndLookup(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<html><body>
<div class="q"><h3>Minimum qualifications:</h3><ul><li>BS degree</li></ul><h3>Preferred qualifications:</h3><ul><li>MS degree</li></ul></div>
<div class="about"><h3>About the job</h3><p>Work on Search.</p><h3>Responsibilities</h3><ul><li>Write code.</li></ul></div>
</body></html>`))
	require.NoError(t, err)

	sections := Sections(doc, "h3")
	require.Len(t, sections, 4)
	assert.Equal(t, "- BS degree", Lookup(sections, "Minimum qualifications"))
	assert.Equal(t, "- MS degree", Lookup(sections, "preferred QUALIFICATIONS"))
	assert.Equal(t, "Work on Search.", Lookup(sections, "About the job"))
	assert.Equal(t, "- Write code.", Lookup(sections, "Responsibilities"))
	assert.Empty(t, Lookup(sections, "Benefits"))
}

func TestSectionsClimbOutOfWrappers(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<div>
<div class="hdr"><h2>About the role</h2></div><p>Lead research.</p>
<div class="hdr"><h2>Responsibilities</h2></div><ul><li>Ship</li></ul>
</div>`))
	require.NoError(t, err)

	sections := Sections(doc, "h2")
	assert.Equal(t, "Lead research.", Lookup(sections, "About the role"))
	assert.Equal(t, "- Ship", Lookup(sections, "Responsibilities"))
}

func TestJoinSkipsEmptyParts(t *testing.T) {
	t.Parallel()

	got := Join(
		Labeled{Text: "About"},
		Labeled{Label: "Responsibilities:", Text: "  "},
		Labeled{Label: "Required:\n", Text: "- Go"},
	)
	assert.Equal(t, "About\n\nRequired:\n- Go", got)
}

func TestJobPostingDescription(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization","description":"Company"}</script>
<script type="application/ld+json">{"@type":"JobPosting","title":"SWE","description":"&lt;p&gt;Hello&lt;/p&gt;"}</script>
</head><body></body></html>`))
	require.NoError(t, err)

	desc, ok := JobPostingDescription(doc)
	require.True(t, ok)
	assert.Equal(t, "<p>Hello</p>", desc)

	doc, err = Parse([]byte(`<script type="application/ld+json">{"@graph":[{"@type":"JobPosting","description":"<p>Graph</p>"}]}</script>`))
	require.NoError(t, err)
	desc, ok = JobPostingDescription(doc)
	require.True(t, ok)
	assert.Equal(t, "<p>Graph</p>", desc)

	doc, err = Parse([]byte(`<p>no structured data</p>`))
	require.NoError(t, err)
	_, ok = JobPostingDescription(doc)
	assert.False(t, ok)
}

func TestSplitterSplitsRequirements(t *testing.T) {
	t.Parallel()

	doc, err := ParseFragment(`<p>Intro text.</p><h2>Who you are</h2><ul><li>Go expert</li></ul>` +
		`<p><strong>Nice to have:</strong></p><ul><li>Rust</li></ul>` +
		`<h2>A few more things about us</h2><p>Perks.</p>`)
	require.NoError(t, err)

	sp := Splitter{
		Required:  []string{"Qualifications", "Who you are"},
		Preferred: []string{"Nice to have"},
		End:       []string{"A few more things about us"},
		KeepTail:  true,
	}
	desc, req := sp.Split(Blocks(doc))
	assert.Equal(t, "Intro text.\n\nA few more things about us\n\nPerks.", desc)
	assert.Equal(t, "Required:\nWho you are\n- Go expert\n\nPreferred:\nNice to have:\n- Rust", req)

	sp.KeepTail = false
	desc, _ = sp.Split(Blocks(doc))
	assert.Equal(t, "Intro text.", desc)
}

func TestSplitterWithoutMarkers(t *testing.T) {
	t.Parallel()

	doc, err := ParseFragment(`<div><p>Only a story.</p><p>No headings here.</p></div>`)
	require.NoError(t, err)

	desc, req := Splitter{Required: []string{"Requirements"}}.Split(Blocks(doc))
	assert.Equal(t, "Only a story.\n\nNo headings here.", desc)
	assert.Empty(t, req)
}

func TestSplitterMatchesCurlyApostrophes(t *testing.T) {
	t.Parallel()

	doc, err := ParseFragment(`<p>About us.</p><p><strong>We’re looking for:</strong></p><ul><li>Curiosity</li></ul>`)
	require.NoError(t, err)

	_, req := Splitter{Required: []string{"We're looking for"}}.Split(Blocks(doc))
	assert.Equal(t, "We’re looking for:\n- Curiosity", req)
}
