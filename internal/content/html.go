package content

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FromHTML converts legacy HTML content into structured nodes. It is
// deliberately tolerant: unknown elements contribute their children, and
// malformed markup parses as whatever the HTML5 algorithm recovers.
// Returns nil when the input contains no usable content.
func FromHTML(src string) []Node {
	if strings.TrimSpace(src) == "" {
		return nil
	}

	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil
	}

	body := findBody(root)
	if body == nil {
		return nil
	}

	p := &htmlParser{}
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		p.block(child)
	}
	p.flushInline()
	return p.blocks
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if body := findBody(child); body != nil {
			return body
		}
	}
	return nil
}

type htmlParser struct {
	blocks []Node
	inline []Node // loose inline content pending a wrapping paragraph
}

// flushInline wraps any accumulated loose inline nodes into a paragraph.
func (p *htmlParser) flushInline() {
	if len(p.inline) == 0 {
		return
	}
	p.blocks = append(p.blocks, Paragraph(p.inline...))
	p.inline = nil
}

func (p *htmlParser) block(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) != "" {
			p.inline = append(p.inline, TextNode(collapseSpace(n.Data)))
		}
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.DataAtom {
	case atom.P:
		p.flushInline()
		p.blocks = append(p.blocks, Paragraph(inlineChildren(n, nil)...))
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		p.flushInline()
		p.blocks = append(p.blocks, Node{
			Type:    "heading",
			Attrs:   map[string]any{"level": headingLevel(n.DataAtom)},
			Content: inlineChildren(n, nil),
		})
	case atom.Ul:
		p.flushInline()
		p.blocks = append(p.blocks, Node{Type: "bulletList", Content: listItems(n)})
	case atom.Ol:
		p.flushInline()
		p.blocks = append(p.blocks, Node{Type: "orderedList", Content: listItems(n)})
	case atom.Blockquote:
		p.flushInline()
		inner := &htmlParser{}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			inner.block(child)
		}
		inner.flushInline()
		p.blocks = append(p.blocks, Node{Type: "blockquote", Content: inner.blocks})
	case atom.Pre:
		p.flushInline()
		p.blocks = append(p.blocks, Node{
			Type:    "codeBlock",
			Content: []Node{TextNode(rawText(n))},
		})
	case atom.Hr:
		p.flushInline()
		p.blocks = append(p.blocks, Node{Type: "horizontalRule"})
	case atom.Br:
		p.inline = append(p.inline, Node{Type: "hardBreak"})
	case atom.Div, atom.Section, atom.Article, atom.Main, atom.Span, atom.Body:
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			p.block(child)
		}
	default:
		// Inline formatting at block level accumulates as loose inline
		// content; anything else contributes its inline children.
		p.inline = append(p.inline, inlineNode(n, nil)...)
	}
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	default:
		return 6
	}
}

func listItems(n *html.Node) []Node {
	var items []Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode || child.DataAtom != atom.Li {
			continue
		}
		inner := &htmlParser{}
		for c := child.FirstChild; c != nil; c = c.NextSibling {
			inner.block(c)
		}
		inner.flushInline()
		if len(inner.blocks) == 0 {
			inner.blocks = []Node{Paragraph()}
		}
		items = append(items, Node{Type: "listItem", Content: inner.blocks})
	}
	return items
}

// inlineChildren converts the children of n into inline nodes with the
// given active mark stack.
func inlineChildren(n *html.Node, marks []Mark) []Node {
	var out []Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		out = append(out, inlineNode(child, marks)...)
	}
	return out
}

func inlineNode(n *html.Node, marks []Mark) []Node {
	switch n.Type {
	case html.TextNode:
		if n.Data == "" {
			return nil
		}
		text := collapseSpace(n.Data)
		if strings.TrimSpace(text) == "" {
			// Preserve a single separating space between marked runs.
			if text == "" {
				return nil
			}
			text = " "
		}
		return []Node{TextNode(text, marks...)}
	case html.ElementNode:
	default:
		return nil
	}

	switch n.DataAtom {
	case atom.Strong, atom.B:
		return inlineChildren(n, appendMark(marks, Mark{Type: "bold"}))
	case atom.Em, atom.I:
		return inlineChildren(n, appendMark(marks, Mark{Type: "italic"}))
	case atom.Code:
		return inlineChildren(n, appendMark(marks, Mark{Type: "code"}))
	case atom.A:
		mark := Mark{Type: "link", Attrs: map[string]any{"href": attrValue(n, "href")}}
		return inlineChildren(n, appendMark(marks, mark))
	case atom.S, atom.Del, atom.Strike:
		return inlineChildren(n, appendMark(marks, Mark{Type: "strike"}))
	case atom.U:
		return inlineChildren(n, appendMark(marks, Mark{Type: "underline"}))
	case atom.Br:
		return []Node{{Type: "hardBreak"}}
	default:
		return inlineChildren(n, marks)
	}
}

// appendMark copies the mark stack so sibling branches do not share backing
// arrays.
func appendMark(marks []Mark, mark Mark) []Mark {
	out := make([]Mark, 0, len(marks)+1)
	out = append(out, marks...)
	return append(out, mark)
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.TrimSuffix(b.String(), "\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == '\t' || r == '\r'
	}), " ")
}
