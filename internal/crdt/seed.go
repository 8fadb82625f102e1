package crdt

import (
	"encoding/json"
	"log"

	"github.com/ThugDemon1/Hywiz-Note-sub000/internal/content"
)

// seedSitePrefix namespaces the synthetic site id used for fallback seeds.
const seedSitePrefix = "seed-"

// BuildSeedUpdate constructs a full-state update that seeds an empty
// document with a title and initial blocks converted from fallback content.
// The record ids derive deterministically from the room name, so two
// sessions that race on reconciling the same fallback produce identical
// records and the merge union deduplicates them instead of doubling the
// content.
func BuildSeedUpdate(room, title string, blocks []content.Node) []byte {
	site := seedSitePrefix + room
	var clock uint64
	next := func() ID {
		clock++
		return ID{Site: site, Clock: clock}
	}

	var recs []record

	origin := ID{}
	for _, r := range title {
		id := next()
		recs = append(recs, record{
			Fragment: FragmentTitle,
			ID:       id,
			Origin:   origin,
			Payload:  []byte(string(r)),
		})
		origin = id
	}

	origin = ID{}
	for _, node := range blocks {
		payload, err := json.Marshal(node)
		if err != nil {
			log.Printf("crdt: marshal seed block: %v", err)
			continue
		}
		id := next()
		recs = append(recs, record{
			Fragment: FragmentContent,
			ID:       id,
			Origin:   origin,
			Payload:  payload,
		})
		origin = id
	}

	return encodeUpdate(recs)
}
