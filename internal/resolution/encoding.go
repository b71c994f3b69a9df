package resolution

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	charsetUTF8   = "utf-8"
	charsetLatin1 = "iso-8859-1"
)

// DetectEncoding decides the character encoding of an HTML byte stream.
// Bytes that already decode as UTF-8 win; otherwise the document is
// scanned under a provisional Latin-1 reading for a charset declared in
// <meta http-equiv="Content-Type"> and then <meta charset>. The final
// fallback is iso-8859-1.
func DetectEncoding(content []byte) string {
	if utf8.Valid(content) {
		return charsetUTF8
	}

	contentTypeCharset, metaCharset := declaredCharsets(content)
	if contentTypeCharset != "" {
		return contentTypeCharset
	}
	if metaCharset != "" {
		return metaCharset
	}

	return charsetLatin1
}

// declaredCharsets tokenizes the document and returns the charset declared
// via http-equiv Content-Type and via <meta charset>, either of which may
// be empty. Meta declarations are ASCII, so tokenizing the raw bytes is
// equivalent to a Latin-1 parse.
func declaredCharsets(content []byte) (string, string) {
	tokenizer := html.NewTokenizer(bytes.NewReader(content))

	var contentTypeCharset string
	var metaCharset string
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			break
		}
		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}

		token := tokenizer.Token()
		if !strings.EqualFold(token.Data, "meta") {
			continue
		}

		var httpEquivValue string
		var contentValue string
		var charsetValue string
		for _, attribute := range token.Attr {
			switch strings.ToLower(attribute.Key) {
			case "http-equiv":
				httpEquivValue = attribute.Val
			case "content":
				contentValue = attribute.Val
			case "charset":
				charsetValue = attribute.Val
			}
		}

		if contentTypeCharset == "" && strings.EqualFold(httpEquivValue, "Content-Type") && contentValue != "" {
			if parsed := charsetFromContentType(contentValue); parsed != "" {
				contentTypeCharset = parsed
			}
		}
		if metaCharset == "" && charsetValue != "" {
			metaCharset = strings.TrimSpace(charsetValue)
		}
		if contentTypeCharset != "" && metaCharset != "" {
			break
		}
	}

	return contentTypeCharset, metaCharset
}

func charsetFromContentType(contentTypeValue string) string {
	_, parameters, parseErr := mime.ParseMediaType(contentTypeValue)
	if parseErr != nil {
		return ""
	}
	return strings.TrimSpace(parameters["charset"])
}

// decodeToUTF8 converts the content from the named charset to UTF-8.
// Unknown charset labels fall back to Latin-1, which never fails.
func decodeToUTF8(content []byte, charsetName string) []byte {
	normalized := strings.TrimSpace(strings.ToLower(charsetName))
	if normalized == "" || normalized == charsetUTF8 || normalized == "utf8" {
		return content
	}

	selectedEncoding, lookupErr := htmlindex.Get(normalized)
	if lookupErr != nil {
		selectedEncoding, lookupErr = htmlindex.Get(charsetLatin1)
		if lookupErr != nil {
			return content
		}
	}

	decoded, readErr := io.ReadAll(selectedEncoding.NewDecoder().Reader(bytes.NewReader(content)))
	if readErr != nil {
		return content
	}
	return decoded
}
