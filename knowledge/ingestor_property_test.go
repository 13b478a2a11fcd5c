package knowledge_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hspmesh/hsp/knowledge"
	"github.com/hspmesh/hsp/registry"
)

// genTripleParts draws a random subject/predicate/object triple and a confidence
// value clear of the ingestion floor and duplicate epsilon, so the same Fact
// payload can be replayed K times without drifting into quarantine or conflict.
func genTripleParts(t *rapid.T) (subject, predicate, object string, confidence float64) {
	subject = rapid.StringMatching(`[a-z][a-z0-9]{2,12}`).Draw(t, "subject")
	predicate = rapid.StringMatching(`[a-z][a-z0-9]{2,12}`).Draw(t, "predicate")
	object = rapid.StringMatching(`[a-z][a-z0-9]{2,12}`).Draw(t, "object")
	confidence = rapid.Float64Range(0.5, 0.95).Draw(t, "confidence")
	return subject, predicate, object, confidence
}

// TestProperty_RepeatedFactNeverRaisesStoredConfidence checks the corroboration
// invariant: replaying the same fact K times leaves the stored confidence exactly
// where the first commit put it, and leaves the corroboration counter at K.
func TestProperty_RepeatedFactNeverRaisesStoredConfidence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		subject, predicate, object, confidence := genTripleParts(rt)
		k := rapid.IntRange(1, 20).Draw(rt, "k")
		senderID := rapid.StringMatching(`sender-[a-z0-9]{3,8}`).Draw(rt, "sender")

		store := newMemStore()
		trust := registry.ConstantTrustPolicy{Value: 0.8}
		ing := knowledge.New(knowledge.DefaultConfig(), store, trust, nil, nil, nil)

		first := tripleFact("fact-0", subject, predicate, object, confidence)
		res, err := ing.Ingest(context.Background(), first, senderID)
		require.NoError(rt, err)
		require.Equal(rt, "novelty", res.Strategy)

		committedConfidence := res.Record.Fact.Confidence
		committedID := res.Record.Metadata.InternalID

		for i := 1; i < k; i++ {
			dup := tripleFact(fmt.Sprintf("fact-%d", i), subject, predicate, object, confidence)
			res, err = ing.Ingest(context.Background(), dup, senderID)
			require.NoError(rt, err)
			require.Equal(rt, "repetition", res.Strategy)
			require.Equal(rt, committedID, res.Record.Metadata.InternalID)

			// The invariant under test: a duplicate reception never raises the
			// confidence already on record for this semantic key.
			require.Equal(rt, committedConfidence, res.Record.Fact.Confidence)
			require.Equal(rt, i+1, res.Record.Metadata.CorroborationCount)
		}

		stored, ok := store.records[committedID]
		require.True(rt, ok)
		require.Equal(rt, k, stored.Metadata.CorroborationCount)
		require.Equal(rt, committedConfidence, stored.Fact.Confidence)
	})
}
