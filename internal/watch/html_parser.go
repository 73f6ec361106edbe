package watch

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
)

// Error variables for HTML parser errors
var (
	// ErrInvalidXPath is returned when the XPath expression syntax is invalid
	ErrInvalidXPath = errors.New("invalid XPath expression")
	// ErrNoElementFound is returned when no element matches the selector/xpath
	ErrNoElementFound = errors.New("no element found matching selector")
)

// visibleTextXPath selects text nodes a reader would see
const visibleTextXPath = `//body//text()[not(ancestor::script) and not(ancestor::style) and not(ancestor::noscript)]`

// HTMLParser narrows a page with a CSS selector or XPath expression and
// extracts the version from the text of every matching element.
// Without a selector or XPath the whole visible page text is used.
type HTMLParser struct {
	// Selector is the CSS selector for narrowing the page
	Selector string
	// XPath is the XPath expression (alternative to Selector)
	XPath string
	// Extractor finds the version in the narrowed text
	Extractor *VersionExtractor
}

// NewHTMLParser creates a new HTMLParser. Empty patterns select the defaults.
func NewHTMLParser(selector, xpath string, patterns []string) (*HTMLParser, error) {
	x, err := NewVersionExtractor(patterns)
	if err != nil {
		return nil, err
	}
	return &HTMLParser{Selector: selector, XPath: xpath, Extractor: x}, nil
}

// Parse implements Parser. The release date is the first date in the narrowed text.
func (p *HTMLParser) Parse(content []byte) (Parsed, error) {
	text, err := p.Text(content)
	if err != nil {
		return Parsed{}, err
	}
	version, err := p.Extractor.Extract(text)
	if err != nil {
		return Parsed{}, err
	}
	return Parsed{Version: version, ReleaseDate: ExtractReleaseDate(text)}, nil
}

// Text returns the narrowed text, one line per matched element.
// CSS selector takes precedence over XPath.
func (p *HTMLParser) Text(content []byte) (string, error) {
	switch {
	case p.Selector != "":
		return p.textWithCSS(content)
	case p.XPath != "":
		return p.textWithXPath(content, p.XPath)
	default:
		return VisibleText(content), nil
	}
}

// textWithCSS collects text content of all elements matching the selector (goquery).
func (p *HTMLParser) textWithCSS(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	selection := doc.Find(p.Selector)
	if selection.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoElementFound, p.Selector)
	}

	lines := make([]string, 0, selection.Length())
	selection.Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			lines = append(lines, t)
		}
	})
	return strings.Join(lines, "\n"), nil
}

// textWithXPath collects text content of all nodes matching expr (htmlquery).
func (p *HTMLParser) textWithXPath(content []byte, expr string) (string, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidXPath, err)
	}

	if len(nodes) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoElementFound, expr)
	}

	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if t := strings.TrimSpace(htmlquery.InnerText(n)); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// VisibleText returns the readable text of an HTML page with one line per text node.
// Content that is not HTML is returned unchanged.
func VisibleText(content []byte) string {
	if !looksLikeHTML(content) {
		return string(content)
	}

	doc, err := htmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return string(content)
	}

	nodes, err := htmlquery.QueryAll(doc, visibleTextXPath)
	if err != nil || len(nodes) == 0 {
		return string(content)
	}

	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if t := strings.TrimSpace(n.Data); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

func looksLikeHTML(content []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(content))
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.Contains(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<body"))
}
