// Package knowledgestore names the Coordinator-facing external collaborator
// interface for fact persistence. The Knowledge Ingestor is the interface's only
// caller today and owns the Fact/Record/Metadata domain types directly (package
// knowledge), so Store is an alias onto knowledge.Store rather than a duplicate
// type family — this package exists to give the collaborator boundary its own name.
package knowledgestore

import "github.com/hspmesh/hsp/knowledge"

// Store persists Facts for the Knowledge Ingestor. See knowledge.Store.
type Store = knowledge.Store
