package resolution

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const (
	descriptionMaxCharacters = 500
	defaultFaviconPath       = "/favicon.ico"
)

var whitespaceReplacer = strings.NewReplacer(
	"\r", " ",
	"\n", " ",
	"\t", " ",
	"\v", " ",
	"\f", " ",
)

// PageMetadata holds the fields extracted from one HTML document. Empty
// strings mean the field is absent; JSONLDs is a serialized JSON array.
type PageMetadata struct {
	Title       string
	Description string
	IconURL     string
	JSONLDs     string
}

// ExtractPageMetadata parses the content under the declared charset and
// applies the first-match extraction ladder for title, description, icon
// and JSON-LD blocks. Parsing is best-effort: malformed JSON-LD is skipped
// and a missing icon falls back to base_url + "/favicon.ico".
func ExtractPageMetadata(content []byte, charsetName string, baseURL string) PageMetadata {
	decoded := decodeToUTF8(content, charsetName)

	document, parseErr := html.Parse(bytes.NewReader(decoded))
	if parseErr != nil || document == nil {
		return PageMetadata{IconURL: resolveIconURL(baseURL, "")}
	}

	metadata := PageMetadata{}
	metadata.Title = extractTitle(document)
	metadata.Description = extractDescription(document, metadata.Title)
	metadata.IconURL = resolveIconURL(baseURL, extractIconReference(document))
	metadata.JSONLDs = extractJSONLDs(document)

	return metadata
}

func extractTitle(document *html.Node) string {
	title := textContent(findElement(document, "title"))
	if title == "" {
		title = findMetaContent(document, "property", "og:title")
	}
	if title == "" {
		return ""
	}
	return flattenWhitespace(title)
}

func extractDescription(document *html.Node, title string) string {
	description := findMetaContent(document, "name", "description")
	if description == title {
		description = ""
	}
	if description == "" {
		description = findMetaContent(document, "property", "og:description")
	}
	if description == "" {
		description = leafText(findElementByAttribute(document, "class", "content"))
	}
	if description == "" {
		description = leafText(findElementByAttribute(document, "id", "content"))
	}
	if description == "" {
		description = leafText(findElement(document, "body"))
	}
	if description == "" {
		return ""
	}

	description = flattenWhitespace(description)
	characters := []rune(description)
	if len(characters) > descriptionMaxCharacters {
		description = string(characters[:descriptionMaxCharacters])
	}
	return description
}

var iconRelPreferenceOrder = []string{
	"shortcut icon",
	"icon",
	"apple-touch-icon-precomposed",
	"apple-touch-icon",
}

func extractIconReference(document *html.Node) string {
	for _, relValue := range iconRelPreferenceOrder {
		if href := findLinkHref(document, relValue); href != "" {
			return href
		}
	}
	return findMetaContent(document, "property", "og:image")
}

func resolveIconURL(baseURL string, iconReference string) string {
	parsedBase, baseErr := url.Parse(baseURL)
	if baseErr != nil {
		return ""
	}

	if iconReference == "" {
		return parsedBase.ResolveReference(&url.URL{Path: defaultFaviconPath}).String()
	}

	iconReference = strings.TrimPrefix(iconReference, "./")
	parsedIcon, iconErr := url.Parse(iconReference)
	if iconErr != nil {
		return parsedBase.ResolveReference(&url.URL{Path: defaultFaviconPath}).String()
	}
	return parsedBase.ResolveReference(parsedIcon).String()
}

func extractJSONLDs(document *html.Node) string {
	var jsonldObjects []any
	forEachElement(document, "script", func(scriptNode *html.Node) {
		if !strings.EqualFold(attributeValue(scriptNode, "type"), "application/ld+json") {
			return
		}
		var jsonldObject any
		if unmarshalErr := json.Unmarshal([]byte(textContent(scriptNode)), &jsonldObject); unmarshalErr != nil {
			return
		}
		jsonldObjects = append(jsonldObjects, jsonldObject)
	})

	if len(jsonldObjects) == 0 {
		return ""
	}
	serialized, marshalErr := json.Marshal(jsonldObjects)
	if marshalErr != nil {
		return ""
	}
	return string(serialized)
}

// flattenWhitespace strips the input, maps each CR, LF, TAB, VT and FF to
// one space, then collapses runs of spaces.
func flattenWhitespace(input string) string {
	flattened := whitespaceReplacer.Replace(strings.TrimSpace(input))
	for strings.Contains(flattened, "  ") {
		flattened = strings.ReplaceAll(flattened, "  ", " ")
	}
	return strings.TrimSpace(flattened)
}

func forEachElement(root *html.Node, elementName string, visit func(*html.Node)) {
	var traverse func(*html.Node)
	traverse = func(current *html.Node) {
		if current == nil {
			return
		}
		if current.Type == html.ElementNode && strings.EqualFold(current.Data, elementName) {
			visit(current)
		}
		for child := current.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(root)
}

func findElement(root *html.Node, elementName string) *html.Node {
	var found *html.Node
	forEachElement(root, elementName, func(candidate *html.Node) {
		if found == nil {
			found = candidate
		}
	})
	return found
}

func findElementByAttribute(root *html.Node, attributeKey string, attributeWanted string) *html.Node {
	var found *html.Node
	var traverse func(*html.Node)
	traverse = func(current *html.Node) {
		if current == nil || found != nil {
			return
		}
		if current.Type == html.ElementNode && attributeValue(current, attributeKey) == attributeWanted {
			found = current
			return
		}
		for child := current.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(root)
	return found
}

func findMetaContent(root *html.Node, attributeKey string, attributeWanted string) string {
	var content string
	forEachElement(root, "meta", func(metaNode *html.Node) {
		if content != "" {
			return
		}
		if attributeValue(metaNode, attributeKey) == attributeWanted {
			content = attributeValue(metaNode, "content")
		}
	})
	return content
}

func findLinkHref(root *html.Node, relWanted string) string {
	var href string
	forEachElement(root, "link", func(linkNode *html.Node) {
		if href != "" {
			return
		}
		if strings.EqualFold(attributeValue(linkNode, "rel"), relWanted) {
			href = attributeValue(linkNode, "href")
		}
	})
	return href
}

func attributeValue(node *html.Node, attributeKey string) string {
	for _, attribute := range node.Attr {
		if strings.EqualFold(attribute.Key, attributeKey) {
			return attribute.Val
		}
	}
	return ""
}

func textContent(node *html.Node) string {
	if node == nil {
		return ""
	}
	var builder strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			builder.WriteString(child.Data)
		}
	}
	return builder.String()
}

// leafText joins the text of every descendant element that has no element
// children, excluding script and style, mirroring the extraction the
// fallback description sources rely on.
func leafText(root *html.Node) string {
	if root == nil {
		return ""
	}

	var segments []string
	var traverse func(*html.Node)
	traverse = func(current *html.Node) {
		if current.Type == html.ElementNode {
			elementName := strings.ToLower(current.Data)
			if elementName == "script" || elementName == "style" {
				return
			}
			if current != root && !hasElementChildren(current) {
				text := textContent(current)
				if strings.TrimSpace(text) != "" {
					segments = append(segments, text)
				}
			}
		}
		for child := current.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(root)

	return strings.Join(segments, " ")
}

func hasElementChildren(node *html.Node) bool {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode {
			return true
		}
	}
	return false
}
