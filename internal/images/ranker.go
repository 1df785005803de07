package images

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// subject area a query or candidate text belongs to
type Domain string

const (
	DomainNone      Domain = ""
	DomainSpace     Domain = "space"
	DomainBiology   Domain = "biology"
	DomainChemistry Domain = "chemistry"
	DomainPhysics   Domain = "physics"
	DomainGeography Domain = "geography"
	DomainHistory   Domain = "history"
	DomainMath      Domain = "math"
)

// Weights is the scoring policy. Boosts and penalties are positive magnitudes;
// only their relative order matters for ranking quality.
type Weights struct {
	Coverage         float64
	TitleCoverage    float64
	TrustOpenverse   float64
	TrustWikimedia   float64
	TrustNASA        float64 // nasa for an off-topic query
	TrustNASAInTopic float64 // nasa for a space query
	Resolution       float64 // at or above ReferencePixels
	ReferencePixels  float64
	AspectPreferred  float64 // ratio within [1.15, 2.2]
	AspectAcceptable float64 // ratio within [0.9, 2.6]
	Educational      float64
	ExactPhrase      float64
	DomainMatch      float64
	DomainMismatch   float64
	SpaceMismatch    float64
	Noise            float64
	MaxQueryTokens   int // query tokens considered for coverage
	PhraseTokens     int // leading query tokens forming the exact phrase
}

func DefaultWeights() Weights {
	return Weights{
		Coverage:         0.45,
		TitleCoverage:    0.2,
		TrustOpenverse:   0.03,
		TrustWikimedia:   0.08,
		TrustNASA:        0.02,
		TrustNASAInTopic: 0.12,
		Resolution:       0.08,
		ReferencePixels:  1600 * 900,
		AspectPreferred:  0.05,
		AspectAcceptable: 0.02,
		Educational:      0.05,
		ExactPhrase:      0.1,
		DomainMatch:      0.08,
		DomainMismatch:   0.12,
		SpaceMismatch:    0.2,
		Noise:            0.15,
		MaxQueryTokens:   6,
		PhraseTokens:     3,
	}
}

var stopWords = newWordSet(false,
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "how", "in", "into",
	"is", "it", "its", "of", "on", "or", "that", "the", "their", "this", "to", "what",
	"when", "where", "which", "who", "why", "with", "about", "between", "during",
	"show", "showing", "image", "picture", "photo", "slide", "illustrating", "depicting",
	"el", "la", "los", "las", "de", "del", "y", "en", "le", "les", "des", "et", "du",
	"der", "die", "das", "und", "den", "il", "di", "da", "do", "os", "um", "uma",
)

// checked in this order; earlier domains win ties
var domainOrder = []Domain{
	DomainSpace, DomainBiology, DomainChemistry, DomainPhysics, DomainGeography, DomainHistory, DomainMath,
}

var domainVocabulary = map[Domain]map[string]struct{}{
	DomainSpace: newWordSet(true,
		"space", "planet", "star", "galaxy", "nebula", "astronomy", "orbit", "moon", "sun", "solar",
		"mars", "jupiter", "saturn", "venus", "mercury", "neptune", "uranus", "comet", "asteroid",
		"telescope", "astronaut", "rocket", "cosmos", "universe", "eclipse", "satellite",
		"spacecraft", "nasa", "hubble", "lunar", "constellation", "meteor", "apollo",
	),
	DomainBiology: newWordSet(true,
		"biology", "cell", "organism", "plant", "animal", "photosynthesis", "dna", "gene",
		"evolution", "ecosystem", "species", "bacteria", "anatomy", "organ", "tissue", "protein",
		"enzyme", "mitosis", "chlorophyll", "leaf", "insect", "mammal", "virus", "heart",
		"brain", "skeleton", "habitat", "flower", "root", "digestion",
	),
	DomainChemistry: newWordSet(true,
		"chemistry", "chemical", "molecule", "atom", "element", "compound", "reaction", "acid",
		"solution", "mixture", "homogeneous", "heterogeneous", "salt", "crystal", "bond", "ion",
		"periodic", "solvent", "solute", "dissolve", "dissolving", "beaker", "catalyst",
		"oxidation", "electron", "isotope",
	),
	DomainPhysics: newWordSet(true,
		"physics", "force", "energy", "motion", "gravity", "velocity", "acceleration",
		"electricity", "magnet", "magnetism", "wave", "light", "sound", "circuit", "friction",
		"momentum", "newton", "optics", "lens", "pendulum", "voltage", "quantum", "lever",
	),
	DomainGeography: newWordSet(true,
		"geography", "continent", "country", "river", "mountain", "climate", "ocean", "volcano",
		"earthquake", "desert", "population", "region", "terrain", "glacier", "erosion",
		"tectonic", "weather", "landform", "coast", "island", "rainforest",
	),
	DomainHistory: newWordSet(true,
		"history", "historical", "war", "empire", "ancient", "medieval", "revolution", "king",
		"queen", "civilization", "dynasty", "century", "colonial", "treaty", "pharaoh", "roman",
		"greek", "castle", "battle", "monarchy", "renaissance",
	),
	DomainMath: newWordSet(true,
		"math", "mathematics", "geometry", "algebra", "equation", "fraction", "triangle",
		"circle", "angle", "graph", "calculus", "probability", "statistics", "polygon",
		"theorem", "pythagorean", "multiplication", "division", "decimal", "symmetry",
	),
}

var educationalTerms = newWordSet(true,
	"diagram", "illustration", "labeled", "labelled", "chart", "experiment", "microscope",
	"model", "structure", "cycle", "process", "anatomy", "specimen", "laboratory", "infographic",
	"scientific", "map", "timeline", "education", "educational", "science", "lesson",
)

var noiseTerms = newWordSet(true,
	"logo", "poster", "meme", "template", "wallpaper", "icon", "clipart",
)

// splits text into unique lowercase word tokens in first-seen order,
// dropping stop words and folding simple plurals
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))

	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}

		if _, stop := stopWords[f]; stop {
			continue
		}

		f = stem(f)
		if _, dup := seen[f]; dup {
			continue
		}

		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}

	return tokens
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && (strings.HasSuffix(w, "sses") || strings.HasSuffix(w, "xes") ||
		strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "shes")):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is"):
		return w[:len(w)-1]
	}

	return w
}

// returns the subject domain sharing the most vocabulary with tokens
func ClassifyDomain(tokens []string) Domain {
	best, bestHits := DomainNone, 0

	for _, d := range domainOrder {
		hits := countIn(tokens, domainVocabulary[d])
		if hits > bestHits {
			best, bestHits = d, hits
		}
	}

	return best
}

// scores candidates against a query
type Ranker struct {
	weights Weights
}

func NewRanker(w Weights) *Ranker {
	if w.MaxQueryTokens <= 0 {
		w.MaxQueryTokens = 6
	}
	if w.PhraseTokens <= 0 {
		w.PhraseTokens = 3
	}
	if w.ReferencePixels <= 0 {
		w.ReferencePixels = 1600 * 900
	}

	return &Ranker{weights: w}
}

// ranks with the default policy
func Rank(candidates []Candidate, queryTokens []string) []RankedCandidate {
	return NewRanker(DefaultWeights()).Rank(candidates, queryTokens)
}

// scores every candidate and sorts descending; equal scores keep input order
func (r *Ranker) Rank(candidates []Candidate, queryTokens []string) []RankedCandidate {
	q := r.prepare(queryTokens)

	ranked := make([]RankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedCandidate{Candidate: c, Confidence: r.score(c, q)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	return ranked
}

type preparedQuery struct {
	tokens  []string // all, deduplicated
	capped  []string // leading tokens used for coverage
	set     map[string]struct{}
	domain  Domain
	phrase  string
	noiseOK bool // query itself asks for noise terms
}

func (r *Ranker) prepare(queryTokens []string) preparedQuery {
	tokens := uniqueNonEmpty(queryTokens)
	for i, t := range tokens {
		tokens[i] = strings.ToLower(t)
	}

	q := preparedQuery{
		tokens: tokens,
		capped: tokens,
		set:    newWordSet(false, tokens...),
		domain: ClassifyDomain(tokens),
	}

	if len(q.capped) > r.weights.MaxQueryTokens {
		q.capped = q.capped[:r.weights.MaxQueryTokens]
	}

	if len(tokens) >= 2 {
		n := min(r.weights.PhraseTokens, len(tokens))
		q.phrase = strings.Join(tokens[:n], " ")
	}

	q.noiseOK = countIn(tokens, noiseTerms) > 0
	return q
}

func (r *Ranker) score(c Candidate, q preparedQuery) float64 {
	w := r.weights

	titleTokens := Tokenize(c.Title)
	text := Tokenize(c.Title + " " + c.Description + " " + strings.Join(c.Tags, " "))
	textSet := newWordSet(false, text...)
	titleSet := newWordSet(false, titleTokens...)

	// an image that shares no word with a specific query is never relevant
	if len(q.tokens) >= 3 && countIn(q.tokens, textSet) == 0 {
		return 0
	}

	var s float64

	if len(q.capped) > 0 {
		s += w.Coverage * float64(countIn(q.capped, textSet)) / float64(len(q.capped))
		s += w.TitleCoverage * float64(countIn(q.capped, titleSet)) / float64(len(q.capped))
	}

	switch c.Provider {
	case ProviderOpenverse:
		s += w.TrustOpenverse
	case ProviderWikimedia:
		s += w.TrustWikimedia
	case ProviderNASA:
		if q.domain == DomainSpace {
			s += w.TrustNASAInTopic
		} else {
			s += w.TrustNASA
		}
	}

	if c.Width > 0 && c.Height > 0 {
		pixels := float64(c.Width) * float64(c.Height)
		s += w.Resolution * math.Min(pixels/w.ReferencePixels, 1)

		ratio := float64(c.Width) / float64(c.Height)
		switch {
		case ratio >= 1.15 && ratio <= 2.2:
			s += w.AspectPreferred
		case ratio >= 0.9 && ratio <= 2.6:
			s += w.AspectAcceptable
		}
	}

	if countIn(text, educationalTerms) > 0 {
		s += w.Educational
	}

	if q.phrase != "" && strings.Contains(" "+strings.Join(titleTokens, " ")+" ", " "+q.phrase+" ") {
		s += w.ExactPhrase
	}

	if q.domain != DomainNone {
		if countIn(text, domainVocabulary[q.domain]) > 0 {
			s += w.DomainMatch
		} else {
			s -= w.DomainMismatch
		}
	}

	if q.domain == DomainSpace && countIn(text, domainVocabulary[DomainSpace]) == 0 {
		s -= w.SpaceMismatch
	}

	if !q.noiseOK && countIn(text, noiseTerms) > 0 {
		s -= w.Noise
	}

	return math.Max(0, math.Min(1, s))
}

func countIn(tokens []string, set map[string]struct{}) int {
	n := 0
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

func newWordSet(stemmed bool, words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stemmed {
			w = stem(w)
		}
		set[w] = struct{}{}
	}
	return set
}
