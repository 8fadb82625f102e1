package crdt

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/content"
)

// TestConvergenceProperty drives a handful of replicas through random edits,
// then delivers every replica's full state to every other replica in a
// random order with random repetition. All replicas must materialize the
// same content and title.
func TestConvergenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		replicaCount := rapid.IntRange(2, 4).Draw(t, "replicas")
		replicas := make([]*Doc, replicaCount)
		for i := range replicas {
			replicas[i] = NewDocWithSite(fmt.Sprintf("site-%d", i))
		}

		editCount := rapid.IntRange(1, 20).Draw(t, "edits")
		for e := 0; e < editCount; e++ {
			doc := replicas[rapid.IntRange(0, replicaCount-1).Draw(t, "target")]
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				text := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "text")
				doc.AppendBlock(content.Paragraph(content.TextNode(text)))
			case 1:
				ids := doc.BlockIDs()
				if len(ids) > 0 {
					doc.DeleteBlock(ids[rapid.IntRange(0, len(ids)-1).Draw(t, "del")])
				}
			case 2:
				ids := doc.BlockIDs()
				if len(ids) > 0 {
					text := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "update")
					doc.UpdateBlock(ids[rapid.IntRange(0, len(ids)-1).Draw(t, "upd")], content.Paragraph(content.TextNode(text)))
				}
			case 3:
				doc.InsertTitle(rapid.IntRange(0, 4).Draw(t, "pos"), rapid.StringMatching(`[a-z]{1,4}`).Draw(t, "title"))
			}
		}

		// Exchange full states in a random order, with repetition.
		states := make([][]byte, replicaCount)
		for i, doc := range replicas {
			states[i] = doc.EncodeState()
		}
		rounds := rapid.IntRange(1, 3).Draw(t, "rounds")
		for r := 0; r < rounds; r++ {
			order := rapid.Permutation(seqInts(replicaCount * replicaCount)).Draw(t, "order")
			for _, k := range order {
				src, dst := k/replicaCount, k%replicaCount
				if src == dst {
					continue
				}
				if err := replicas[dst].ApplyUpdate(states[src]); err != nil {
					t.Fatalf("apply state %d to %d: %v", src, dst, err)
				}
			}
		}

		want := render(replicas[0])
		for i := 1; i < replicaCount; i++ {
			if got := render(replicas[i]); got != want {
				t.Fatalf("replica %d diverged:\n%s\nvs replica 0:\n%s", i, got, want)
			}
		}
	})
}

func render(doc *Doc) string {
	out := "title=" + doc.Title()
	for _, node := range doc.Blocks() {
		out += "|" + content.PlainText([]content.Node{node})
	}
	return out
}

func seqInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
