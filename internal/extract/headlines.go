package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	chromeLabel    = regexp.MustCompile(`(?i)^(닫기|더보기|검색|로그인|MY|NAVER|close|more|search|log ?in|sign ?in|menu)$`)
	relatedCounter = regexp.MustCompile(`(?i)(\d+\s*개의 관련뉴스.*$)|(\b\d+\s*related (news|articles?|stories)\b.*$)`)
)

const (
	minHeadline = 10
	maxHeadline = 200
	minSummary  = 30
	minArticles = 3
)

func isEmphasis(n *html.Node) bool {
	return n.Type == html.ElementNode && (n.DataAtom == atom.Strong || n.DataAtom == atom.B)
}

// headlines detects listing pages (portal front pages, news sections) where
// each story is an emphasized headline followed by a short summary. ok is
// false when the page does not look like one.
func headlines(doc *html.Node) (string, bool) {
	var (
		all     []string
		order   []string
		summary = map[string]string{}
	)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isEmphasis(n) {
			h := textOf(n)
			l := utf8.RuneCountInString(h)
			if l >= minHeadline && l <= maxHeadline && !chromeLabel.MatchString(h) {
				all = append(all, h)
				s := strings.TrimSpace(relatedCounter.ReplaceAllString(followingText(n), ""))
				if utf8.RuneCountInString(s) > minSummary {
					if _, seen := summary[h]; !seen {
						order = append(order, h)
					}
					summary[h] = s
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(all) < minArticles {
		return "", false
	}

	var parts []string
	if len(order) >= minArticles {
		for i, h := range order {
			parts = append(parts, fmt.Sprintf("[Article %d] %s\n%s", i+1, h, summary[h]))
		}
	} else {
		seen := map[string]bool{}
		for _, h := range all {
			if seen[h] {
				continue
			}
			seen[h] = true
			parts = append(parts, fmt.Sprintf("[Article %d] %s", len(parts)+1, h))
		}
	}

	out := strings.Join(parts, "\n\n")
	return out, utf8.RuneCountInString(out) > minHeadlineText
}

// followingText collects the text after an emphasized node up to the next
// emphasized node or the end of the enclosing list item or div.
func followingText(n *html.Node) string {
	var b strings.Builder
	for cur := n; cur != nil; cur = cur.Parent {
		for s := cur.NextSibling; s != nil; s = s.NextSibling {
			if collectUntilEmphasis(&b, s) {
				return collapse(b.String())
			}
		}
		p := cur.Parent
		if p == nil || p.DataAtom == atom.Li || p.DataAtom == atom.Div || p.DataAtom == atom.Body {
			break
		}
	}
	return collapse(b.String())
}

// collectUntilEmphasis appends the text of n and reports whether an
// emphasized element was reached.
func collectUntilEmphasis(b *strings.Builder, n *html.Node) bool {
	if isEmphasis(n) {
		return true
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return false
	}
	block := separatesText(n)
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if collectUntilEmphasis(b, c) {
			return true
		}
	}
	if block {
		b.WriteByte(' ')
	}
	return false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
