package knowledge

import (
	"context"
	"fmt"
)

// NaiveContentAnalyzer is the default ContentAnalyzer: it reads subject/predicate/
// object fields directly off a triple-statement Fact, and falls back to treating an
// NL fact's whole string as a single-field key so novelty/duplicate detection still
// has something stable to compare.
type NaiveContentAnalyzer struct{}

func (NaiveContentAnalyzer) SemanticKey(_ context.Context, fact Fact) (SemanticKey, error) {
	if fact.StatementType == StatementTriple && fact.Structured != nil {
		subject, _ := fact.Structured["subject"].(string)
		predicate, _ := fact.Structured["predicate"].(string)
		object := fmt.Sprintf("%v", fact.Structured["object"])
		if subject == "" || predicate == "" {
			return SemanticKey{}, fmt.Errorf("triple fact missing subject/predicate")
		}
		return SemanticKey{SubjectURI: subject, Predicate: predicate, Object: object}, nil
	}
	return SemanticKey{SubjectURI: fact.NL, Predicate: "states", Object: fact.NL}, nil
}
