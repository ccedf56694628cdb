// Package render turns fetched article HTML into the bytes written to disk.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"mp_harvester/internal/domain"
)

type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "md" or "html" in any case; empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Renderer converts article HTML to the configured output format.
type Renderer struct {
	format Format
	policy *bluemonday.Policy
}

// New creates a renderer. sanitizeHTML only applies to FormatHTML and runs the
// document through bluemonday's UGC policy.
func New(format Format, sanitizeHTML bool) *Renderer {
	r := &Renderer{format: format}
	if sanitizeHTML {
		r.policy = bluemonday.UGCPolicy()
	}
	return r
}

// Extension is the file extension for rendered output, without the dot.
func (r *Renderer) Extension() string {
	return string(r.format)
}

// Render produces the file body for one article.
func (r *Renderer) Render(title string, meta domain.Meta, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrValidation)
	}

	switch r.format {
	case FormatHTML:
		if r.policy != nil {
			return r.policy.SanitizeBytes(raw), nil
		}
		return raw, nil
	case FormatMarkdown:
		return r.markdown(title, meta, raw)
	default:
		return nil, fmt.Errorf("unknown output format %q", r.format)
	}
}

type frontMatter struct {
	Title   string `yaml:"title,omitempty"`
	Date    string `yaml:"date,omitempty"`
	Link    string `yaml:"link,omitempty"`
	Account string `yaml:"account,omitempty"`
	Summary string `yaml:"summary,omitempty"`
}

func (r *Renderer) markdown(title string, meta domain.Meta, raw []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	fm, err := yaml.Marshal(frontMatter{
		Title:   title,
		Date:    meta.Date,
		Link:    meta.Link,
		Account: meta.Account,
		Summary: meta.Digest,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n")
	buf.WriteString(ToMarkdown(mainContent(doc)))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// mainContent picks the article body: #js_content, then <body>, then the whole document.
func mainContent(doc *goquery.Document) *goquery.Selection {
	if sel := doc.Find("#js_content").First(); sel.Length() > 0 {
		return sel
	}
	if sel := doc.Find("body").First(); sel.Length() > 0 {
		return sel
	}
	return doc.Selection
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\r\n\f]+`)
	lineSpaces = regexp.MustCompile(` *\n *`)
	blankRun   = regexp.MustCompile(`\n{3,}`)
)

// ToMarkdown converts a selection to a simple markdown rendition.
func ToMarkdown(sel *goquery.Selection) string {
	sel.Find("script, style").Remove()

	var sb strings.Builder
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(&sb, c)
		}
	}

	out := lineSpaces.ReplaceAllString(sb.String(), "\n")
	out = blankRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func walk(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(spaceRun.ReplaceAllString(n.Data, " "))
		return
	case html.ElementNode:
	default:
		children(sb, n)
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		sb.WriteString("\n" + strings.Repeat("#", level) + " ")
		sb.WriteString(strings.TrimSpace(inline(n)))
		sb.WriteString("\n")
	case "p", "div", "section", "blockquote":
		sb.WriteString("\n")
		children(sb, n)
		sb.WriteString("\n")
	case "br":
		sb.WriteString("\n")
	case "strong", "b":
		text := strings.TrimSpace(inline(n))
		if text != "" {
			sb.WriteString("**" + text + "**")
		}
	case "li":
		sb.WriteString("\n- ")
		sb.WriteString(strings.TrimSpace(inline(n)))
		sb.WriteString("\n")
	case "pre":
		sb.WriteString("\n```\n")
		sb.WriteString(strings.Trim(textContent(n), "\n"))
		sb.WriteString("\n```\n")
	case "code":
		sb.WriteString("`" + textContent(n) + "`")
	case "img":
		src := attr(n, "data-src")
		if src == "" {
			src = attr(n, "src")
		}
		if src != "" {
			sb.WriteString("\n![](" + src + ")\n")
		}
	case "a":
		text := strings.TrimSpace(inline(n))
		href := attr(n, "href")
		if href == "" || text == "" || strings.HasPrefix(href, "javascript:") {
			sb.WriteString(text)
		} else {
			sb.WriteString("[" + text + "](" + href + ")")
		}
	default:
		children(sb, n)
	}
}

func children(sb *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(sb, c)
	}
}

func inline(n *html.Node) string {
	var sb strings.Builder
	children(&sb, n)
	return strings.ReplaceAll(sb.String(), "\n", " ")
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
