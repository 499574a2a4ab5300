package businesscontext

import (
	"slices"
	"time"

	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// RelationshipType is the cardinality of an inferred relationship.
type RelationshipType string

const (
	OneToOne   RelationshipType = "one-to-one"
	OneToMany  RelationshipType = "one-to-many"
	ManyToMany RelationshipType = "many-to-many"
)

// DefaultBusinessType is assigned to entities no column rule matches.
const DefaultBusinessType = "entity"

// GeneralDomain is reported while no entity has a specific business type.
const GeneralDomain = "general"

// Entity groups the relations that describe the same business concept.
type Entity struct {
	Name         string                `json:"name"`
	BusinessType string                `json:"businessType"`
	Columns      []models.SchemaColumn `json:"columns"`
	Views        []string              `json:"views"`
}

// Relationship is an inferred join between two analysed relations.
// FromView holds JoinColumn, ToView holds ToColumn.
type Relationship struct {
	FromView   string           `json:"fromView"`
	ToView     string           `json:"toView"`
	JoinColumn string           `json:"joinColumn"`
	ToColumn   string           `json:"toColumn"`
	Type       RelationshipType `json:"type"`
	Confidence float64          `json:"confidence"`
}

// Relation is the stored column snapshot of one analysed relation. Source
// is the datasource id the snapshot came from, when known.
type Relation struct {
	Path    string                `json:"path"`
	Name    string                `json:"name"`
	Entity  string                `json:"entity"`
	Source  string                `json:"source,omitempty"`
	Columns []models.SchemaColumn `json:"columns"`
}

// BusinessContext is the per-workspace semantic model built from every
// relation seen so far.
type BusinessContext struct {
	Domain        string              `json:"domain"`
	Views         []string            `json:"views"`
	Relations     []Relation          `json:"relations"`
	Entities      map[string]Entity   `json:"entities"`
	Vocabulary    map[string]string   `json:"vocabulary"`
	Relationships []Relationship      `json:"relationships"`
	EntityGraph   map[string][]string `json:"entityGraph"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// New returns an empty context.
func New() *BusinessContext {
	bc := &BusinessContext{Domain: GeneralDomain}
	bc.normalize()
	return bc
}

// HasView reports whether the relation path has already been analysed.
func (bc *BusinessContext) HasView(path string) bool {
	return slices.Contains(bc.Views, path)
}

func (bc *BusinessContext) relationIndex(path string) int {
	return slices.IndexFunc(bc.Relations, func(r Relation) bool { return r.Path == path })
}

// Clone returns a deep copy safe to hand to callers.
func (bc *BusinessContext) Clone() *BusinessContext {
	if bc == nil {
		return nil
	}
	out := &BusinessContext{
		Domain:        bc.Domain,
		Views:         slices.Clone(bc.Views),
		Relations:     make([]Relation, len(bc.Relations)),
		Entities:      make(map[string]Entity, len(bc.Entities)),
		Vocabulary:    make(map[string]string, len(bc.Vocabulary)),
		Relationships: slices.Clone(bc.Relationships),
		EntityGraph:   make(map[string][]string, len(bc.EntityGraph)),
		UpdatedAt:     bc.UpdatedAt,
	}
	for i, r := range bc.Relations {
		r.Columns = slices.Clone(r.Columns)
		out.Relations[i] = r
	}
	for k, e := range bc.Entities {
		e.Columns = slices.Clone(e.Columns)
		e.Views = slices.Clone(e.Views)
		out.Entities[k] = e
	}
	for k, v := range bc.Vocabulary {
		out.Vocabulary[k] = v
	}
	for k, v := range bc.EntityGraph {
		out.EntityGraph[k] = slices.Clone(v)
	}
	out.normalize()
	return out
}

// normalize replaces nil collections so the JSON form never carries null.
func (bc *BusinessContext) normalize() {
	if bc.Domain == "" {
		bc.Domain = GeneralDomain
	}
	if bc.Views == nil {
		bc.Views = []string{}
	}
	if bc.Relations == nil {
		bc.Relations = []Relation{}
	}
	if bc.Entities == nil {
		bc.Entities = map[string]Entity{}
	}
	if bc.Vocabulary == nil {
		bc.Vocabulary = map[string]string{}
	}
	if bc.Relationships == nil {
		bc.Relationships = []Relationship{}
	}
	if bc.EntityGraph == nil {
		bc.EntityGraph = map[string][]string{}
	}
	for k, v := range bc.EntityGraph {
		if v == nil {
			bc.EntityGraph[k] = []string{}
		}
	}
}
