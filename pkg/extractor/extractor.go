// Package extractor parses fetched HTML and pulls out the pieces the crawler
// needs: outbound anchor targets, page metadata and the main text.
package extractor

import (
	"bytes"
	"errors"
	"iter"
	"strings"

	"github.com/markusmobius/go-trafilatura"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/amosWeiskopf/depthcrawl/pkg/scope"
	"github.com/amosWeiskopf/depthcrawl/pkg/utils"
)

// ErrEmptyDocument is returned by Parse for a body with no content.
var ErrEmptyDocument = errors.New("extractor: empty document")

// Parse builds a document tree from an HTML body.
func Parse(body []byte) (*html.Node, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyDocument
	}
	return html.Parse(bytes.NewReader(body))
}

// Links yields the canonical target of every <a href> under root, in document
// order. Targets that cannot be canonicalized against baseURL are skipped.
// Each call to the returned sequence walks the tree afresh.
func Links(root *html.Node, baseURL string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for n := range walk(root) {
			if n.Type != html.ElementNode || n.DataAtom != atom.A {
				continue
			}
			href, ok := attr(n, "href")
			if !ok {
				continue
			}
			target, err := scope.Canonicalize(baseURL, href)
			if err != nil {
				continue
			}
			if !yield(target) {
				return
			}
		}
	}
}

// Metadata returns the first <title> text and the <meta name="description"> content.
func Metadata(root *html.Node) (title, description string) {
	foundTitle := false
	for n := range walk(root) {
		if n.Type != html.ElementNode {
			continue
		}
		switch n.DataAtom {
		case atom.Title:
			if !foundTitle && n.FirstChild != nil {
				title = utils.CleanText(n.FirstChild.Data)
				foundTitle = true
			}
		case atom.Meta:
			name, _ := attr(n, "name")
			if strings.EqualFold(name, "description") {
				content, _ := attr(n, "content")
				description = utils.CleanText(content)
			}
		}
	}
	return title, description
}

// MainText extracts the readable content of a page with trafilatura and falls
// back to the concatenated text nodes when trafilatura finds nothing.
func MainText(body []byte, root *html.Node) string {
	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{})
	if err == nil && result != nil && strings.TrimSpace(result.ContentText) != "" {
		return strings.TrimSpace(result.ContentText)
	}
	return fallbackText(root)
}

func fallbackText(root *html.Node) string {
	var b strings.Builder
	skip := map[*html.Node]bool{}
	for n := range walk(root) {
		if n.Parent != nil && skip[n.Parent] {
			skip[n] = true
			continue
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			skip[n] = true
			continue
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
	}
	return b.String()
}

// walk is a pre-order traversal driven by an explicit stack, so deeply nested
// documents do not grow the goroutine stack.
func walk(root *html.Node) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		if root == nil {
			return
		}
		stack := []*html.Node{root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(n) {
				return
			}
			for c := n.LastChild; c != nil; c = c.PrevSibling {
				stack = append(stack, c)
			}
		}
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}
