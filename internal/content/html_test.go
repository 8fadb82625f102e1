package content

import (
	"strings"
	"testing"
)

func TestFromHTMLParagraph(t *testing.T) {
	nodes := FromHTML("<p>Hello</p>")
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	if nodes[0].Type != "paragraph" {
		t.Errorf("expected paragraph, got %s", nodes[0].Type)
	}
	if got := PlainText(nodes); got != "Hello" {
		t.Errorf("expected text %q, got %q", "Hello", got)
	}
}

func TestFromHTMLEmptyInput(t *testing.T) {
	for _, src := range []string{"", "   ", "\n\t"} {
		if nodes := FromHTML(src); nodes != nil {
			t.Errorf("FromHTML(%q) = %v, want nil", src, nodes)
		}
	}
}

func TestFromHTMLHeadingsAndLists(t *testing.T) {
	nodes := FromHTML("<h2>Title</h2><ul><li>one</li><li>two</li></ul>")
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	heading := nodes[0]
	if heading.Type != "heading" {
		t.Fatalf("expected heading, got %s", heading.Type)
	}
	if level, _ := heading.Attrs["level"].(int); level != 2 {
		t.Errorf("expected level 2, got %v", heading.Attrs["level"])
	}

	list := nodes[1]
	if list.Type != "bulletList" {
		t.Fatalf("expected bulletList, got %s", list.Type)
	}
	if len(list.Content) != 2 {
		t.Fatalf("expected 2 list items, got %d", len(list.Content))
	}
	if got := PlainText([]Node{list.Content[1]}); got != "two" {
		t.Errorf("expected second item %q, got %q", "two", got)
	}
}

func TestFromHTMLMarks(t *testing.T) {
	nodes := FromHTML(`<p>plain <strong>bold <em>both</em></strong> <a href="https://hywiz.dev">link</a></p>`)
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}

	var both, link *Node
	for i := range nodes[0].Content {
		n := &nodes[0].Content[i]
		switch n.Text {
		case "both":
			both = n
		case "link":
			link = n
		}
	}

	if both == nil {
		t.Fatal("missing nested marked text")
	}
	if len(both.Marks) != 2 || both.Marks[0].Type != "bold" || both.Marks[1].Type != "italic" {
		t.Errorf("unexpected marks on nested text: %+v", both.Marks)
	}

	if link == nil {
		t.Fatal("missing link text")
	}
	if len(link.Marks) != 1 || link.Marks[0].Type != "link" {
		t.Fatalf("unexpected marks on link text: %+v", link.Marks)
	}
	if href, _ := link.Marks[0].Attrs["href"].(string); href != "https://hywiz.dev" {
		t.Errorf("expected href preserved, got %q", href)
	}
}

func TestFromHTMLLooseTextWrapped(t *testing.T) {
	nodes := FromHTML("loose text<p>block</p>")
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].Type != "paragraph" || PlainText([]Node{nodes[0]}) != "loose text" {
		t.Errorf("loose text not wrapped in paragraph: %+v", nodes[0])
	}
}

func TestFromHTMLMalformed(t *testing.T) {
	// Unclosed tags recover via the HTML5 parsing algorithm.
	nodes := FromHTML("<p>first<p>second")
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if got := PlainText(nodes); got != "firstsecond" {
		t.Errorf("unexpected recovered text %q", got)
	}
}

func TestToHTMLRoundTrip(t *testing.T) {
	src := "<p>Hello <strong>world</strong></p>"
	out := ToHTML(FromHTML(src))
	if !strings.Contains(out, "<strong>world</strong>") {
		t.Errorf("bold mark lost: %q", out)
	}
	if !strings.Contains(out, "<p>Hello ") {
		t.Errorf("paragraph lost: %q", out)
	}
}

func TestToHTMLEscapes(t *testing.T) {
	out := ToHTML([]Node{Paragraph(TextNode("<script>"))})
	if strings.Contains(out, "<script>") {
		t.Fatalf("unescaped text in output: %q", out)
	}
}
