package content

import "strings"

// IsEmpty reports whether the structured content is a "freshly created,
// never edited" document. That is the case for zero top-level nodes, a
// single default block with no children, or a single default block whose
// only child is a text node that is empty or all-whitespace.
//
// A single block with non-whitespace text, multiple blocks, or non-text
// children all count as real content: a user who deliberately deleted all
// text must not have their document overwritten by fallback content.
func IsEmpty(nodes []Node) bool {
	if len(nodes) == 0 {
		return true
	}
	if len(nodes) > 1 {
		return false
	}

	block := nodes[0]
	if block.Type != DefaultBlockType {
		return false
	}
	if len(block.Content) == 0 {
		return true
	}
	if len(block.Content) > 1 {
		return false
	}

	child := block.Content[0]
	if child.Type != "text" {
		return false
	}
	return strings.TrimSpace(child.Text) == ""
}
