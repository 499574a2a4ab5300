package businesscontext

import (
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ekaya-inc/ekaya-analyst/pkg/config"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// Merge adds every table of schema not analysed yet to bc and re-derives
// relationships, the entity graph and the domain. A path already analysed
// is skipped unless the schema comes from a different datasource, in which
// case the stored snapshot is replaced. It reports whether bc changed.
// Tables without a name are recorded under relationID.
func Merge(bc *BusinessContext, relationID string, schema *models.Schema, cfg config.BusinessContextConfig) bool {
	if schema == nil {
		return false
	}
	added, replaced := false, false
	for _, t := range schema.Tables {
		if t.Name == "" {
			t.Name = relationID
		}
		if t.Name == "" {
			continue
		}
		r := Relation{
			Path:    schema.RelationPath(t),
			Name:    t.Name,
			Entity:  EntityName(t.Name),
			Source:  schema.DatasourceID,
			Columns: slices.Clone(t.Columns),
		}
		if i := bc.relationIndex(r.Path); i >= 0 {
			if !supersedes(bc.Relations[i], r) {
				continue
			}
			bc.Relations[i] = r
			replaced = true
			continue
		}
		addRelation(bc, r)
		added = true
	}
	if replaced {
		rebuilt := Rebuild(bc, cfg)
		*bc = *rebuilt
		return true
	}
	if added {
		derive(bc, cfg)
	}
	return added
}

// supersedes reports whether next replaces the stored snapshot of the
// same path: only a snapshot from another datasource does.
func supersedes(stored, next Relation) bool {
	return next.Source != "" && next.Source != stored.Source
}

// Rebuild discards everything derived in bc and replays its stored
// relations in their original order.
func Rebuild(bc *BusinessContext, cfg config.BusinessContextConfig) *BusinessContext {
	fresh := New()
	for _, r := range bc.Relations {
		r.Columns = slices.Clone(r.Columns)
		addRelation(fresh, r)
	}
	derive(fresh, cfg)
	fresh.UpdatedAt = bc.UpdatedAt
	return fresh
}

func addRelation(bc *BusinessContext, r Relation) {
	bc.Views = append(bc.Views, r.Path)
	bc.Relations = append(bc.Relations, r)

	e, ok := bc.Entities[r.Entity]
	if !ok {
		e = Entity{Name: r.Entity, Columns: []models.SchemaColumn{}, Views: []string{}}
	}
	for _, c := range r.Columns {
		if !slices.ContainsFunc(e.Columns, func(x models.SchemaColumn) bool { return strings.EqualFold(x.Name, c.Name) }) {
			e.Columns = append(e.Columns, c)
		}
		bc.Vocabulary[c.Name] = BusinessTerm(c.Name)
	}
	e.Views = append(e.Views, r.Path)
	e.BusinessType = ClassifyBusinessType(e.Columns)
	bc.Entities[r.Entity] = e
}

func derive(bc *BusinessContext, cfg config.BusinessContextConfig) {
	bc.Relationships = InferRelationships(bc.Relations, cfg)
	bc.EntityGraph = buildEntityGraph(bc)
	bc.Domain = inferDomain(bc.Entities)
}

// EntityName derives the entity a relation describes: lower-cased, one
// known prefix stripped and singularized.
func EntityName(relation string) string {
	name := strings.ToLower(strings.TrimSpace(relation))
	for _, p := range entityPrefixes {
		if !strings.HasPrefix(name, p) {
			continue
		}
		if rest := name[len(p):]; rest != "" && !unicode.IsDigit(rune(rest[0])) {
			name = rest
		}
		break
	}
	return inflection.Singular(name)
}

// BusinessTerm turns a column name into a readable term, expanding known
// abbreviations: "cust_email" becomes "Customer Email".
func BusinessTerm(column string) string {
	words := splitWords(column)
	if len(words) == 0 {
		return column
	}
	caser := cases.Title(language.English)
	out := make([]string, 0, len(words))
	for _, w := range words {
		lw := strings.ToLower(w)
		if exp, ok := abbreviations[lw]; ok {
			out = append(out, exp)
			continue
		}
		out = append(out, caser.String(lw))
	}
	return strings.Join(out, " ")
}

// ClassifyBusinessType picks the business type whose rule matches the
// most column words.
func ClassifyBusinessType(columns []models.SchemaColumn) string {
	words := map[string]bool{}
	for _, c := range columns {
		for _, w := range splitWords(c.Name) {
			words[strings.ToLower(w)] = true
		}
	}
	best, bestHits := DefaultBusinessType, 0
	for _, rule := range businessTypeRules {
		hits := 0
		for _, tok := range rule.tokens {
			if words[tok] {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = rule.businessType, hits
		}
	}
	return best
}

// splitWords breaks an identifier on separators and camelCase boundaries.
func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		if r == '_' || r == '-' || r == '.' || unicode.IsSpace(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// foreignKeyStem returns the referenced name of an FK-looking column.
func foreignKeyStem(column string) (string, bool) {
	lower := strings.ToLower(column)
	for _, suffix := range foreignKeySuffixes {
		if stem, ok := strings.CutSuffix(lower, suffix); ok && strings.Trim(stem, "_") != "" {
			return stem, true
		}
	}
	if stem, ok := strings.CutSuffix(column, "Id"); ok && stem != "" {
		if last := rune(stem[len(stem)-1]); unicode.IsLower(last) || unicode.IsDigit(last) {
			return strings.ToLower(strings.Join(splitWords(stem), "_")), true
		}
	}
	return "", false
}

// primaryKey returns the column acting as the relation's key: "id", else
// "<entity>_id", else "".
func primaryKey(r Relation) string {
	if c, ok := findColumn(r, "id"); ok {
		return c.Name
	}
	if c, ok := findColumn(r, r.Entity+"_id"); ok {
		return c.Name
	}
	return ""
}

func findColumn(r Relation, name string) (models.SchemaColumn, bool) {
	for _, c := range r.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return models.SchemaColumn{}, false
}

type relationshipKey struct {
	from, to, column string
}

// InferRelationships scores every FK-looking column against every other
// relation and returns the relationships at or above the configured
// confidence, in relation and column order.
func InferRelationships(relations []Relation, cfg config.BusinessContextConfig) []Relationship {
	keys := make([]string, len(relations))
	for i, r := range relations {
		keys[i] = primaryKey(r)
	}
	claimed := claimedEntities(relations)

	out := []Relationship{}
	seen := map[relationshipKey]bool{}
	add := func(r Relationship, symmetric bool) {
		k := relationshipKey{r.FromView, r.ToView, strings.ToLower(r.JoinColumn)}
		if seen[k] {
			return
		}
		if symmetric && seen[relationshipKey{r.ToView, r.FromView, strings.ToLower(r.ToColumn)}] {
			return
		}
		seen[k] = true
		out = append(out, r)
	}

	for i, a := range relations {
		for _, c := range a.Columns {
			stem, ok := foreignKeyStem(c.Name)
			if !ok {
				continue
			}
			var targets []Relationship
			for j, b := range relations {
				if i == j || a.Path == b.Path {
					continue
				}
				r, ok := scoreCandidate(a, keys[i], c, stem, b, keys[j], claimed[b.Entity], cfg)
				if !ok || r.Confidence < cfg.MinConfidence {
					continue
				}
				if r.Type == OneToMany {
					targets = append(targets, r)
					continue
				}
				add(r, true)
			}
			best := 0.0
			for _, r := range targets {
				best = math.Max(best, r.Confidence)
			}
			for _, r := range targets {
				if r.Confidence >= best {
					add(r, false)
				}
			}
		}
	}
	return out
}

// claimedEntities returns the entities some FK-looking column names.
func claimedEntities(relations []Relation) map[string]bool {
	claimed := map[string]bool{}
	for _, a := range relations {
		for _, c := range a.Columns {
			stem, ok := foreignKeyStem(c.Name)
			if !ok {
				continue
			}
			for _, b := range relations {
				if namesEntity(stem, b.Entity) {
					claimed[b.Entity] = true
				}
			}
		}
	}
	return claimed
}

// scoreCandidate classifies column c of a as a join onto b. A structural
// match onto an "id" key is only considered when b's entity is not named
// by any column, or is named by c itself.
func scoreCandidate(a Relation, pkA string, c models.SchemaColumn, stem string, b Relation, pkB string, claimed bool, cfg config.BusinessContextConfig) (Relationship, bool) {
	isKeyOfA := pkA != "" && strings.EqualFold(c.Name, pkA)
	isKeyOfB := pkB != "" && strings.EqualFold(c.Name, pkB)
	shared, sharedOK := findColumn(b, c.Name)

	r := Relationship{FromView: a.Path, ToView: b.Path, JoinColumn: c.Name}
	var base float64
	var target models.SchemaColumn
	switch {
	case isKeyOfB && isKeyOfA:
		r.Type, base, target = OneToOne, cfg.ExactNameWeight, shared
	case isKeyOfB:
		r.Type, base, target = OneToMany, cfg.ExactNameWeight, shared
	case isKeyOfA:
		return Relationship{}, false
	case sharedOK:
		r.Type, base, target = ManyToMany, cfg.ExactNameWeight, shared
	case strings.EqualFold(pkB, "id") && (!claimed || namesEntity(stem, b.Entity)):
		target, _ = findColumn(b, pkB)
		r.Type, base = OneToMany, cfg.StructuralWeight
	default:
		return Relationship{}, false
	}
	r.ToColumn = target.Name

	score := base
	if c.Type != "" && target.Type != "" && c.Kind() == target.Kind() {
		score += cfg.TypeWeight
	}
	if r.Type != ManyToMany && namesEntity(stem, b.Entity) {
		score += cfg.NamingWeight
	}
	score = math.Min(score, 1)
	if r.Type == ManyToMany {
		score *= cfg.ManyToManyFactor
	}
	r.Confidence = math.Round(score*100) / 100
	return r, true
}

func namesEntity(stem, entity string) bool {
	return stem == entity || inflection.Singular(stem) == entity
}

func buildEntityGraph(bc *BusinessContext) map[string][]string {
	entityOf := make(map[string]string, len(bc.Relations))
	for _, r := range bc.Relations {
		entityOf[r.Path] = r.Entity
	}
	graph := make(map[string][]string, len(bc.Entities))
	for name := range bc.Entities {
		graph[name] = []string{}
	}
	link := func(from, to string) {
		if !slices.Contains(graph[from], to) {
			graph[from] = append(graph[from], to)
		}
	}
	for _, rel := range bc.Relationships {
		from, to := entityOf[rel.FromView], entityOf[rel.ToView]
		if from == "" || to == "" || from == to {
			continue
		}
		link(from, to)
		link(to, from)
	}
	for name := range graph {
		slices.Sort(graph[name])
	}
	return graph
}

// inferDomain returns the most frequent specific business type; ties go
// to the earlier rule.
func inferDomain(entities map[string]Entity) string {
	counts := map[string]int{}
	for _, e := range entities {
		counts[e.BusinessType]++
	}
	best, bestCount := GeneralDomain, 0
	for _, rule := range businessTypeRules {
		if n := counts[rule.businessType]; n > bestCount {
			best, bestCount = rule.businessType, n
		}
	}
	return best
}
