package resolution_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/physical-web/internal/resolution"
)

const extractionBaseURL = "http://example.com/articles/page.html"

func extract(t *testing.T, document string) resolution.PageMetadata {
	t.Helper()
	return resolution.ExtractPageMetadata([]byte(document), "utf-8", extractionBaseURL)
}

func TestExtractTitlePrefersTitleElement(t *testing.T) {
	metadata := extract(t, `<html><head>
		<title>  Page   Title </title>
		<meta property="og:title" content="OG Title">
	</head><body></body></html>`)
	require.Equal(t, "Page Title", metadata.Title)
}

func TestExtractTitleFallsBackToOpenGraph(t *testing.T) {
	metadata := extract(t, `<html><head><meta property="og:title" content="OG Title"></head><body></body></html>`)
	require.Equal(t, "OG Title", metadata.Title)
}

func TestExtractDescriptionPrefersMetaDescription(t *testing.T) {
	metadata := extract(t, `<html><head>
		<meta name="description" content="The description">
		<meta property="og:description" content="OG description">
	</head><body></body></html>`)
	require.Equal(t, "The description", metadata.Description)
}

func TestExtractDescriptionDiscardedWhenEqualToTitle(t *testing.T) {
	metadata := extract(t, `<html><head>
		<title>Same Text</title>
		<meta name="description" content="Same Text">
		<meta property="og:description" content="OG description">
	</head><body></body></html>`)
	require.Equal(t, "OG description", metadata.Description)
}

func TestExtractDescriptionFallsBackToContentClass(t *testing.T) {
	metadata := extract(t, `<html><head></head><body>
		<div class="content"><p>First part.</p><p>Second part.</p></div>
	</body></html>`)
	require.Equal(t, "First part. Second part.", metadata.Description)
}

func TestExtractDescriptionFallsBackToContentID(t *testing.T) {
	metadata := extract(t, `<html><head></head><body>
		<div id="content"><span>Identified text</span></div>
	</body></html>`)
	require.Equal(t, "Identified text", metadata.Description)
}

func TestExtractDescriptionFallsBackToBodyLeafText(t *testing.T) {
	metadata := extract(t, `<html><head></head><body>
		<p>Visible text</p>
		<script>ignored()</script>
		<style>.ignored{}</style>
	</body></html>`)
	require.Equal(t, "Visible text", metadata.Description)
}

func TestExtractDescriptionIsFlattenedAndTruncated(t *testing.T) {
	longWord := strings.Repeat("a", 600)
	metadata := extract(t, `<html><head>
		<meta name="description" content="line one`+"\r\n\t"+`line two  `+longWord+`">
	</head><body></body></html>`)

	require.LessOrEqual(t, len([]rune(metadata.Description)), 500)
	require.NotContains(t, metadata.Description, "\n")
	require.NotContains(t, metadata.Description, "\r")
	require.NotContains(t, metadata.Description, "\t")
	require.NotContains(t, metadata.Description, "  ")
	require.True(t, strings.HasPrefix(metadata.Description, "line one line two"))
}

func TestExtractIconFollowsRelPreferenceOrder(t *testing.T) {
	metadata := extract(t, `<html><head>
		<link rel="apple-touch-icon" href="/touch.png">
		<link rel="icon" href="/icon.png">
		<link rel="shortcut icon" href="/shortcut.ico">
	</head><body></body></html>`)
	require.Equal(t, "http://example.com/shortcut.ico", metadata.IconURL)
}

func TestExtractIconStripsRelativePrefixAndResolves(t *testing.T) {
	metadata := extract(t, `<html><head>
		<link rel="icon" href="./images/icon.png">
	</head><body></body></html>`)
	require.Equal(t, "http://example.com/articles/images/icon.png", metadata.IconURL)
}

func TestExtractIconFallsBackToOpenGraphImage(t *testing.T) {
	metadata := extract(t, `<html><head>
		<meta property="og:image" content="https://cdn.example.com/social.png">
	</head><body></body></html>`)
	require.Equal(t, "https://cdn.example.com/social.png", metadata.IconURL)
}

func TestExtractIconDefaultsToFaviconPath(t *testing.T) {
	metadata := extract(t, `<html><head></head><body></body></html>`)
	require.Equal(t, "http://example.com/favicon.ico", metadata.IconURL)
}

func TestExtractJSONLDCollectsValidBlocksAndSkipsInvalid(t *testing.T) {
	metadata := extract(t, `<html><head>
		<script type="application/ld+json">{"@type":"WebPage","name":"Example"}</script>
		<script type="application/ld+json">not json at all</script>
		<script type="application/ld+json">{"@type":"Organization"}</script>
	</head><body></body></html>`)

	require.Contains(t, metadata.JSONLDs, `"WebPage"`)
	require.Contains(t, metadata.JSONLDs, `"Organization"`)
	require.NotContains(t, metadata.JSONLDs, "not json")
	require.True(t, strings.HasPrefix(metadata.JSONLDs, "["))
}

func TestExtractJSONLDAbsentWhenNoBlocks(t *testing.T) {
	metadata := extract(t, `<html><head></head><body></body></html>`)
	require.Empty(t, metadata.JSONLDs)
}

func TestExtractDecodesDeclaredCharset(t *testing.T) {
	content := append(
		[]byte(`<html><head><meta charset="iso-8859-1"><title>caf`),
		0xe9,
	)
	content = append(content, []byte(`</title></head><body></body></html>`)...)

	metadata := resolution.ExtractPageMetadata(content, "iso-8859-1", extractionBaseURL)
	require.Equal(t, "café", metadata.Title)
}
