package graph

import "strings"

// Entity type constants used during extraction and storage.
const (
	EntityOrganization = "organization"
	EntityPerson       = "person"
	EntityConcept      = "concept"
	EntityLocation     = "location"
	EntityEvent        = "event"
)

// Relation type constants. The extraction prompt and the merge engine both
// enforce this closed set; anything else is dropped before persistence.
const (
	RelIsPrerequisiteFor = "IS_PREREQUISITE_FOR"
	RelExplains          = "EXPLAINS"
	RelIsExampleOf       = "IS_EXAMPLE_OF"
	RelInvolves          = "INVOLVES"
	RelLeadsTo           = "LEADS_TO"
	RelDefinedAs         = "DEFINED_AS"
)

// EntityTypes lists all entity types in record order.
var EntityTypes = []string{
	EntityOrganization,
	EntityPerson,
	EntityConcept,
	EntityLocation,
	EntityEvent,
}

// RelationTypes lists the closed set of relationship types.
var RelationTypes = []string{
	RelIsPrerequisiteFor,
	RelExplains,
	RelIsExampleOf,
	RelInvolves,
	RelLeadsTo,
	RelDefinedAs,
}

// ValidRelationType reports whether t is in the closed relation set.
func ValidRelationType(t string) bool {
	for _, r := range RelationTypes {
		if t == r {
			return true
		}
	}
	return false
}

// NormalizeName canonicalizes an entity name for dedup lookups:
// casefold, trim, collapse internal whitespace runs to a single space.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// CandidateEntity is one entity proposed by a single extraction call.
// Entities are grouped by type in the ExtractionRecord, so the type is
// carried by the collection, not the candidate.
type CandidateEntity struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CandidateRelationship references its endpoints by name; resolution to
// stored entity IDs happens in the merge engine.
type CandidateRelationship struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	RelationType string `json:"relation_type"`
	Evidence     string `json:"evidence,omitempty"`
}

// ExtractionRecord is the transient structured output of one extraction.
// It lives only for the duration of a pipeline run: produced by the
// Extractor, consumed by the merge engine, then discarded.
type ExtractionRecord struct {
	Organizations []CandidateEntity       `json:"organizations"`
	People        []CandidateEntity       `json:"people"`
	Concepts      []CandidateEntity       `json:"concepts"`
	Locations     []CandidateEntity       `json:"locations"`
	Events        []CandidateEntity       `json:"events"`
	Relationships []CandidateRelationship `json:"relationships"`
}

// TypedEntities returns the candidate collections in record order, keyed by
// entity type. The returned slices alias the record.
func (r *ExtractionRecord) TypedEntities() map[string][]CandidateEntity {
	return map[string][]CandidateEntity{
		EntityOrganization: r.Organizations,
		EntityPerson:       r.People,
		EntityConcept:      r.Concepts,
		EntityLocation:     r.Locations,
		EntityEvent:        r.Events,
	}
}

// TotalEntities counts candidates across all typed collections.
func (r *ExtractionRecord) TotalEntities() int {
	return len(r.Organizations) + len(r.People) + len(r.Concepts) +
		len(r.Locations) + len(r.Events)
}

// Empty reports whether the record carries no candidates at all.
func (r *ExtractionRecord) Empty() bool {
	return r.TotalEntities() == 0 && len(r.Relationships) == 0
}

// Append concatenates another record's collections onto this one. Chunked
// extraction concatenates per-chunk records without deduplicating; dedup is
// the merge engine's job.
func (r *ExtractionRecord) Append(other *ExtractionRecord) {
	if other == nil {
		return
	}
	r.Organizations = append(r.Organizations, other.Organizations...)
	r.People = append(r.People, other.People...)
	r.Concepts = append(r.Concepts, other.Concepts...)
	r.Locations = append(r.Locations, other.Locations...)
	r.Events = append(r.Events, other.Events...)
	r.Relationships = append(r.Relationships, other.Relationships...)
}
