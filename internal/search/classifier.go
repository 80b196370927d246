package search

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Decision is the routing outcome of classification.
type Decision string

const (
	// DecisionSimple routes to lexical retrieval only.
	DecisionSimple Decision = "simple"
	// DecisionComplex routes to lexical and vector retrieval.
	DecisionComplex Decision = "complex"
)

// Signal weights.
const (
	weightCodeAbbrev   = 3
	weightCodeName     = 3
	weightSectionRef   = 2
	weightShortQuery   = 1
	weightKeyword      = 2
	weightQuestionMark = 2
	weightLongQuery    = 2

	shortQueryWords = 4
	longQueryWords  = 10
)

// Classification explains how a query was routed.
type Classification struct {
	Query        string   `json:"query"`
	SimpleScore  int      `json:"simple_score"`
	ComplexScore int      `json:"complex_score"`
	Decision     Decision `json:"decision"`
	Reason       string   `json:"reason"`
	Signals      []string `json:"signals"`
	// CodeHint is the code abbreviation the query names, if any.
	CodeHint string `json:"code_hint,omitempty"`
	// SectionHint is the section number the query names, if any.
	SectionHint string `json:"section_hint,omitempty"`
}

// codeAbbrevs maps every recognized abbreviation token to its canonical
// code abbreviation.
var codeAbbrevs = map[string]string{
	"FAM": "FAM", "PEN": "PEN", "CIV": "CIV", "BPC": "BPC", "LAB": "LAB",
	"VEH": "VEH", "CCP": "CCP", "EVID": "EVID", "GOV": "GOV", "HSC": "HSC",
	"PROB": "PROB", "WIC": "WIC",
	"FC": "FAM", "PC": "PEN", "CC": "CIV", "BP": "BPC", "LC": "LAB", "VC": "VEH",
}

// codeNames maps full code names to abbreviations. Longer names come first
// so "civil procedure" wins over "civil".
var codeNames = []struct {
	name   string
	abbrev string
}{
	{"code of civil procedure", "CCP"},
	{"civil procedure", "CCP"},
	{"business and professions", "BPC"},
	{"health and safety", "HSC"},
	{"welfare and institutions", "WIC"},
	{"family", "FAM"},
	{"penal", "PEN"},
	{"civil", "CIV"},
	{"business", "BPC"},
	{"labor", "LAB"},
	{"vehicle", "VEH"},
	{"evidence", "EVID"},
	{"government", "GOV"},
	{"probate", "PROB"},
}

// complexKeywords signal a question that needs semantic retrieval. Each
// distinct keyword counts once.
var complexKeywords = []string{
	"how", "why", "when", "explain", "describe", "compare", "difference",
	"what are", "tell me about", "help me understand", "can i", "should i",
	"example", "requirements", "process", "procedure", "steps", "rights",
	"obligations", "penalties", "consequences", "applies to", "does this mean",
}

var (
	codeNamePattern   = regexp.MustCompile(`(?i)\b(?:california\s+|ca\s+)?(family|penal|civil|business(?:\s+and\s+professions)?|labor|vehicle|evidence|government|probate|health\s+and\s+safety|welfare\s+and\s+institutions)\s+code\s*(?:section|sec\.?|§)?\s*\d+`)
	sectionRefPattern = regexp.MustCompile(`(?i)(?:\b(?:section|sec\.?)\s*|§\s*)(\d+(?:\.\d+)?)`)
	bareNumberPattern = regexp.MustCompile(`\b(\d{3,5})\b`)
	wordPattern       = regexp.MustCompile(`[\p{L}\p{N}§.]+`)
)

// Classify scores query against simple and complex signals. The decision is
// complex only when the complex score is strictly greater; ties are simple.
func Classify(query string) Classification {
	q := strings.TrimSpace(query)
	c := Classification{Query: q}

	fields := strings.Fields(q)
	normalized := normalizeWords(q)

	for _, f := range fields {
		tok := strings.Trim(f, ".,;:?!()[]\"'")
		if abbrev, ok := codeAbbrevs[strings.ToUpper(tok)]; ok && isAllCaps(tok) {
			c.SimpleScore += weightCodeAbbrev
			c.Signals = append(c.Signals, fmt.Sprintf("code abbreviation %s (+%d)", abbrev, weightCodeAbbrev))
			break
		}
	}

	if codeNamePattern.MatchString(q) {
		c.SimpleScore += weightCodeName
		c.Signals = append(c.Signals, fmt.Sprintf("code name with number (+%d)", weightCodeName))
	}

	if sectionRefPattern.MatchString(q) {
		c.SimpleScore += weightSectionRef
		c.Signals = append(c.Signals, fmt.Sprintf("section reference (+%d)", weightSectionRef))
	} else if bareNumberPattern.MatchString(q) {
		c.SimpleScore += weightSectionRef
		c.Signals = append(c.Signals, fmt.Sprintf("section number (+%d)", weightSectionRef))
	}

	words := len(fields)
	if words > 0 && words <= shortQueryWords {
		c.SimpleScore += weightShortQuery
		c.Signals = append(c.Signals, fmt.Sprintf("short query, %d words (+%d)", words, weightShortQuery))
	}

	for _, kw := range complexKeywords {
		if strings.Contains(normalized, " "+kw+" ") {
			c.ComplexScore += weightKeyword
			c.Signals = append(c.Signals, fmt.Sprintf("keyword %q (+%d)", kw, weightKeyword))
		}
	}
	if strings.Contains(q, "?") {
		c.ComplexScore += weightQuestionMark
		c.Signals = append(c.Signals, fmt.Sprintf("question mark (+%d)", weightQuestionMark))
	}
	if words > longQueryWords {
		c.ComplexScore += weightLongQuery
		c.Signals = append(c.Signals, fmt.Sprintf("long query, %d words (+%d)", words, weightLongQuery))
	}

	c.Decision = DecisionSimple
	if c.ComplexScore > c.SimpleScore {
		c.Decision = DecisionComplex
	}
	c.Reason = fmt.Sprintf("%s: simple %d vs complex %d", c.Decision, c.SimpleScore, c.ComplexScore)
	if len(c.Signals) > 0 {
		c.Reason += " (" + strings.Join(c.Signals, "; ") + ")"
	}

	c.CodeHint = ExtractCodeFilter(q)
	c.SectionHint = ExtractSectionNumber(q)
	return c
}

// isAllCaps rejects ordinary words that happen to spell an abbreviation,
// such as "pen" or "cc" written in lowercase.
func isAllCaps(tok string) bool {
	return tok == strings.ToUpper(tok)
}

// normalizeWords lowercases q and joins its words with single spaces,
// padded so whole-word phrases can be found with " kw ".
func normalizeWords(q string) string {
	words := wordPattern.FindAllString(strings.ToLower(q), -1)
	for i, w := range words {
		words[i] = strings.TrimRight(w, ".")
	}
	return " " + strings.Join(words, " ") + " "
}

// ExtractCodeFilter returns the code abbreviation named in query, as an
// abbreviation token or a full code name, or "".
func ExtractCodeFilter(query string) string {
	for _, f := range strings.Fields(query) {
		tok := strings.Trim(f, ".,;:?!()[]\"'")
		if abbrev, ok := codeAbbrevs[strings.ToUpper(tok)]; ok && isAllCaps(tok) {
			return abbrev
		}
	}

	normalized := normalizeWords(query)
	for _, cn := range codeNames {
		if strings.Contains(normalized, " "+cn.name+" code ") {
			return cn.abbrev
		}
	}
	for _, cn := range codeNames {
		if strings.Contains(normalized, " "+cn.name+" ") && strings.Contains(normalized, " code ") {
			return cn.abbrev
		}
	}
	return ""
}

// ExtractSectionNumber returns the section number named in query, preferring
// an explicit "section N" or "§N" over a bare 3-5 digit number, or "".
func ExtractSectionNumber(query string) string {
	if m := sectionRefPattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	if m := bareNumberPattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

// DefaultClassifierCacheSize bounds the classification cache.
const DefaultClassifierCacheSize = 1024

// CachedClassifier memoizes Classify by normalized query text.
type CachedClassifier struct {
	cache *lru.Cache[string, Classification]
}

// NewCachedClassifier creates a classifier with an LRU of size entries.
func NewCachedClassifier(size int) *CachedClassifier {
	if size <= 0 {
		size = DefaultClassifierCacheSize
	}
	cache, _ := lru.New[string, Classification](size)
	return &CachedClassifier{cache: cache}
}

// Classify returns the cached classification for query, computing it on a
// miss.
func (c *CachedClassifier) Classify(query string) Classification {
	key := strings.Join(strings.Fields(query), " ")
	if cls, ok := c.cache.Get(key); ok {
		return cls
	}
	cls := Classify(query)
	c.cache.Add(key, cls)
	return cls
}

// Len returns the number of cached classifications.
func (c *CachedClassifier) Len() int {
	return c.cache.Len()
}
