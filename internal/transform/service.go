// Package transform converts provider issue content into internal work items.
package transform

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	htmlBlockPattern  = regexp.MustCompile(`(?is)^\s*<(p|div|h[1-6]|ul|ol|table|blockquote|pre|br|span)\b.*</?[a-z0-9]+\s*/?>\s*$`)
)

// Service converts between the markdown providers store and the HTML the internal tracker renders.
type Service struct {
	logger   arbor.ILogger
	markdown goldmark.Markdown
}

// NewService creates a new transform service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

// MarkdownToHTML renders GitHub flavoured markdown. Relative links and images
// are resolved against baseURL when it is set.
func (s *Service) MarkdownToHTML(markdown, baseURL string) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}

	if baseURL == "" {
		return buf.String(), nil
	}
	return s.resolveLinks(buf.String(), baseURL)
}

// HTMLToMarkdown converts HTML content to markdown, falling back to stripped
// text when the converter fails or yields nothing.
func (s *Service) HTMLToMarkdown(html, baseURL string) string {
	if html == "" {
		return ""
	}

	converter := md.NewConverter(domainOf(baseURL), true, nil)
	converted, err := converter.ConvertString(html)
	if err != nil {
		s.logger.Warn().Err(err).Msg("HTML to markdown conversion failed, using fallback")
		return stripHTMLTags(html)
	}

	if strings.TrimSpace(converted) == "" {
		s.logger.Warn().
			Int("html_length", len(html)).
			Msg("HTML to markdown conversion produced empty output, applying fallback")
		return stripHTMLTags(html)
	}

	return converted
}

// NormalizeBody returns markdown for a provider body. Bodies that are an HTML
// document (mail bridges, some GitLab imports) are converted first.
func (s *Service) NormalizeBody(body, baseURL string) string {
	if looksLikeHTML(body) {
		return s.HTMLToMarkdown(body, baseURL)
	}
	return body
}

func (s *Service) resolveLinks(html, baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse rendered html: %w", err)
	}

	resolve := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, sel *goquery.Selection) {
			value, _ := sel.Attr(attr)
			ref, err := url.Parse(value)
			if err != nil || ref.IsAbs() || strings.HasPrefix(value, "#") {
				return
			}
			sel.SetAttr(attr, base.ResolveReference(ref).String())
		}
	}
	doc.Find("a[href]").Each(resolve("href"))
	doc.Find("img[src]").Each(resolve("src"))

	out, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialise html: %w", err)
	}
	return out, nil
}

func looksLikeHTML(body string) bool {
	return htmlBlockPattern.MatchString(body)
}

func domainOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// stripHTMLTags removes basic HTML tags for fallback cases
func stripHTMLTags(html string) string {
	stripped := htmlTagPattern.ReplaceAllString(html, "")
	cleaned := whitespacePattern.ReplaceAllString(stripped, " ")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return strings.TrimSpace(replacer.Replace(cleaned))
}
