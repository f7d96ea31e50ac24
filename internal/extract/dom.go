package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements removed with their whole subtree.
var droppedTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Svg: true,
	atom.Iframe: true, atom.Select: true, atom.Input: true, atom.Button: true,
	atom.Nav: true, atom.Footer: true, atom.Header: true, atom.Aside: true,
	atom.Form: true, atom.Template: true,
}

// Never removed by the class/id denylist, however they are named.
var protectedTags = map[atom.Atom]bool{
	atom.Html: true, atom.Body: true, atom.Main: true, atom.Article: true,
}

var (
	chromeAttr = regexp.MustCompile(`(?i)cookie|banner|popup|modal|overlay|tooltip|dropdown|menu|sidebar|` +
		`breadcrumb|pagination|widget|(^|[\s_-])ads?-|advert|sponsor|promo|social-share|share-button|` +
		`login|signup|subscribe|newsletter|related-article|recommend`)

	contentAttr = regexp.MustCompile(`(?i)article[-_]?body|article[-_]?content|post[-_]?content|` +
		`entry[-_]?content|story[-_]?body|news[-_]?body|content[-_]?body|main[-_]?content`)

	inlineSpace = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
)

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isChrome(n *html.Node) bool {
	if protectedTags[n.DataAtom] {
		return false
	}
	for _, key := range []string{"class", "id"} {
		if v := attr(n, key); v != "" && chromeAttr.MatchString(v) {
			return true
		}
	}
	return false
}

// stripChrome removes non-content elements, comments and elements whose
// class or id names page chrome.
func stripChrome(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && (droppedTags[c.DataAtom] || isChrome(c)):
			n.RemoveChild(c)
		default:
			stripChrome(c)
		}
		c = next
	}
}

// mainRegion returns the rendered text of the longest structural content
// region, or "" when none exceeds the minimum length.
func mainRegion(doc *html.Node) string {
	var best string
	bestLen := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && isContentRegion(n) {
			text := strings.TrimSpace(render(n))
			if l := utf8.RuneCountInString(text); l > bestLen {
				best, bestLen = text, l
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if bestLen <= minRegionRunes {
		return ""
	}
	return best
}

func isContentRegion(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Article, atom.Main:
		return true
	case atom.Div, atom.Section:
		if contentAttr.MatchString(attr(n, "class")) || contentAttr.MatchString(attr(n, "id")) {
			return true
		}
	}
	return attr(n, "role") == "main"
}

// render converts a subtree to text, mapping block structure to line breaks.
func render(n *html.Node) string {
	var b strings.Builder
	renderNode(&b, n)
	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(l, " "))
	}
	return blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		words := strings.Fields(n.Data)
		if len(words) == 0 {
			if n.Data != "" {
				b.WriteByte(' ')
			}
			return
		}
		if isSpace(n.Data[0]) {
			b.WriteByte(' ')
		}
		b.WriteString(strings.Join(words, " "))
		if isSpace(n.Data[len(n.Data)-1]) {
			b.WriteByte(' ')
		}
		return
	case html.ElementNode:
	default:
		renderChildren(b, n)
		return
	}

	switch n.DataAtom {
	case atom.Head, atom.Title:
		return
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		b.WriteString("\n\n")
		renderChildren(b, n)
		b.WriteString("\n\n")
	case atom.Br:
		b.WriteByte('\n')
	case atom.Hr:
		b.WriteString("\n---\n")
	case atom.Li:
		b.WriteString("\n- ")
		renderChildren(b, n)
		b.WriteByte('\n')
	case atom.Td, atom.Th:
		renderChildren(b, n)
		b.WriteString(" | ")
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote, atom.Tr, atom.Ul, atom.Ol, atom.Main, atom.Table:
		b.WriteByte('\n')
		renderChildren(b, n)
		b.WriteByte('\n')
	default:
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

// textOf returns the whitespace-collapsed text of a subtree. Text split
// across inline elements is joined as written; block elements separate words.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		block := separatesText(n)
		if block {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte(' ')
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// separatesText reports whether n is an element whose boundaries break words
// apart, as opposed to inline markup such as <b> or <a>.
func separatesText(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Br, atom.Hr, atom.P, atom.Div, atom.Section, atom.Article, atom.Main, atom.Blockquote,
		atom.Li, atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Td, atom.Th,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}
