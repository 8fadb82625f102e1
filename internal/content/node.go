// Package content models the structured rich-text tree shared between
// collaborating editors, and converts between it and the legacy HTML
// representation used for documents created before collaborative editing.
package content

import (
	"fmt"
	"html"
	"strings"
)

// DefaultBlockType is the block type editors create for an untouched document.
const DefaultBlockType = "paragraph"

// Node represents a node in the structured document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark represents a text mark (formatting).
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// TextNode builds an inline text node with optional marks.
func TextNode(text string, marks ...Mark) Node {
	return Node{Type: "text", Text: text, Marks: marks}
}

// Paragraph builds a default block wrapping the given inline children.
func Paragraph(children ...Node) Node {
	return Node{Type: DefaultBlockType, Content: children}
}

// ParagraphText builds a default block holding a single text child.
func ParagraphText(text string) Node {
	return Paragraph(TextNode(text))
}

// PlainText returns the concatenated text content of the node's subtree.
func (n Node) PlainText() string {
	var b strings.Builder
	writePlainText(&b, n)
	return b.String()
}

// PlainText returns the concatenated text content of the given nodes.
func PlainText(nodes []Node) string {
	var b strings.Builder
	for _, n := range nodes {
		writePlainText(&b, n)
	}
	return b.String()
}

func writePlainText(b *strings.Builder, n Node) {
	if n.Type == "text" {
		b.WriteString(n.Text)
		return
	}
	for _, child := range n.Content {
		writePlainText(b, child)
	}
}

// ToHTML renders structured nodes back to HTML, the inverse of FromHTML.
// The backend serves this form to non-collaborative consumers.
func ToHTML(nodes []Node) string {
	var b strings.Builder
	for _, n := range nodes {
		renderNode(&b, n)
	}
	return b.String()
}

func renderNode(b *strings.Builder, n Node) {
	switch n.Type {
	case "paragraph":
		b.WriteString("<p>")
		renderChildren(b, n)
		b.WriteString("</p>\n")
	case "heading":
		level := 1
		if lvl, ok := n.Attrs["level"].(float64); ok {
			level = int(lvl)
		} else if lvl, ok := n.Attrs["level"].(int); ok {
			level = lvl
		}
		if level < 1 || level > 6 {
			level = 1
		}
		fmt.Fprintf(b, "<h%d>", level)
		renderChildren(b, n)
		fmt.Fprintf(b, "</h%d>\n", level)
	case "bulletList":
		b.WriteString("<ul>\n")
		renderChildren(b, n)
		b.WriteString("</ul>\n")
	case "orderedList":
		b.WriteString("<ol>\n")
		renderChildren(b, n)
		b.WriteString("</ol>\n")
	case "listItem":
		b.WriteString("<li>")
		renderChildren(b, n)
		b.WriteString("</li>\n")
	case "blockquote":
		b.WriteString("<blockquote>\n")
		renderChildren(b, n)
		b.WriteString("</blockquote>\n")
	case "codeBlock":
		b.WriteString("<pre><code>")
		b.WriteString(html.EscapeString(PlainText(n.Content)))
		b.WriteString("</code></pre>\n")
	case "text":
		b.WriteString(renderTextWithMarks(n.Text, n.Marks))
	case "hardBreak":
		b.WriteString("<br>")
	case "horizontalRule":
		b.WriteString("<hr>\n")
	default:
		// Unknown node type - render content if any
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n Node) {
	for _, child := range n.Content {
		renderNode(b, child)
	}
}

func renderTextWithMarks(text string, marks []Mark) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			htmlText = "<strong>" + htmlText + "</strong>"
		case "italic":
			htmlText = "<em>" + htmlText + "</em>"
		case "code":
			htmlText = "<code>" + htmlText + "</code>"
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		case "strike":
			htmlText = "<s>" + htmlText + "</s>"
		case "underline":
			htmlText = "<u>" + htmlText + "</u>"
		}
	}

	return htmlText
}
