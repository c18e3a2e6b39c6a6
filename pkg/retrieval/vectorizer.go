package retrieval

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ErrEmptyVocabulary is returned by Fit when no token survives stop-word removal.
var ErrEmptyVocabulary = errors.New("empty vocabulary; documents only contain stop words")

// Term is one non-zero component of a sparse vector.
type Term struct {
	Index  int
	Weight float64
}

// Vector is a sparse vector with terms ordered by index.
type Vector []Term

// Dot returns the inner product of two sparse vectors. For L2-normalized
// vectors this is their cosine similarity.
func (v Vector) Dot(o Vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v) && j < len(o) {
		switch {
		case v[i].Index == o[j].Index:
			sum += v[i].Weight * o[j].Weight
			i++
			j++
		case v[i].Index < o[j].Index:
			i++
		default:
			j++
		}
	}
	return sum
}

// tokenPattern matches runs of two or more word characters.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer is a TF-IDF model: raw term counts weighted by smoothed inverse
// document frequency, then L2-normalized.
type Vectorizer struct {
	MaxFeatures int
	Vocabulary  map[string]int
	IDF         []float64
}

// NewVectorizer creates an unfitted vectorizer keeping at most maxFeatures terms.
func NewVectorizer(maxFeatures int) *Vectorizer {
	return &Vectorizer{MaxFeatures: maxFeatures}
}

// Fitted reports whether Fit has succeeded.
func (v *Vectorizer) Fitted() bool { return len(v.Vocabulary) > 0 }

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Fit learns the vocabulary and IDF weights from corpus. When the vocabulary
// exceeds MaxFeatures, the most frequent terms across the corpus are kept,
// ties going to the alphabetically first term.
func (v *Vectorizer) Fit(corpus []string) error {
	df := make(map[string]int)
	freq := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range tokenize(text) {
			freq[tok]++
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return ErrEmptyVocabulary
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	if v.MaxFeatures > 0 && len(terms) > v.MaxFeatures {
		sort.SliceStable(terms, func(i, j int) bool { return freq[terms[i]] > freq[terms[j]] })
		terms = terms[:v.MaxFeatures]
		sort.Strings(terms)
	}

	n := float64(len(corpus))
	v.Vocabulary = make(map[string]int, len(terms))
	v.IDF = make([]float64, len(terms))
	for i, term := range terms {
		v.Vocabulary[term] = i
		v.IDF[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return nil
}

// Transform maps text into the fitted vector space. Unknown terms are ignored;
// text without known terms yields an empty vector.
func (v *Vectorizer) Transform(text string) Vector {
	counts := make(map[int]int)
	for _, tok := range tokenize(text) {
		if idx, ok := v.Vocabulary[tok]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	vec := make(Vector, 0, len(counts))
	for idx, c := range counts {
		vec = append(vec, Term{Index: idx, Weight: float64(c) * v.IDF[idx]})
	}
	// Summing in index order keeps equal texts bit-identical.
	sort.Slice(vec, func(i, j int) bool { return vec[i].Index < vec[j].Index })
	var norm float64
	for _, t := range vec {
		norm += t.Weight * t.Weight
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i].Weight /= norm
	}
	return vec
}

var stopwords = func() map[string]struct{} {
	words := []string{
		// English
		"a", "about", "above", "across", "after", "afterwards", "again", "against", "all", "almost",
		"alone", "along", "already", "also", "although", "always", "am", "among", "amongst", "an",
		"and", "another", "any", "anyhow", "anyone", "anything", "anyway", "anywhere", "are", "around",
		"as", "at", "back", "be", "became", "because", "become", "becomes", "been", "before",
		"beforehand", "behind", "being", "below", "beside", "besides", "between", "beyond", "both",
		"but", "by", "can", "cannot", "could", "do", "done", "down", "due", "during", "each", "eg",
		"either", "else", "elsewhere", "enough", "etc", "even", "ever", "every", "everyone",
		"everything", "everywhere", "except", "few", "for", "former", "formerly", "from", "further",
		"had", "has", "have", "he", "hence", "her", "here", "hereafter", "hereby", "herein", "hers",
		"herself", "him", "himself", "his", "how", "however", "ie", "if", "in", "indeed", "into", "is",
		"it", "its", "itself", "last", "latter", "least", "less", "ltd", "many", "may", "me",
		"meanwhile", "might", "more", "moreover", "most", "mostly", "much", "must", "my", "myself",
		"namely", "neither", "never", "nevertheless", "next", "no", "nobody", "none", "nor", "not",
		"nothing", "now", "nowhere", "of", "off", "often", "on", "once", "one", "only", "onto", "or",
		"other", "others", "otherwise", "our", "ours", "ourselves", "out", "over", "own", "per",
		"perhaps", "please", "rather", "re", "same", "seem", "seemed", "seeming", "seems", "several",
		"she", "should", "since", "so", "some", "somehow", "someone", "something", "sometime",
		"sometimes", "somewhere", "still", "such", "than", "that", "the", "their", "them",
		"themselves", "then", "thence", "there", "thereafter", "thereby", "therefore", "therein",
		"thereupon", "these", "they", "this", "those", "though", "through", "throughout", "thru",
		"thus", "to", "together", "too", "toward", "towards", "under", "until", "up", "upon", "us",
		"very", "via", "was", "we", "well", "were", "what", "whatever", "when", "whence", "whenever",
		"where", "whereafter", "whereas", "whereby", "wherein", "whereupon", "wherever", "whether",
		"which", "while", "whither", "who", "whoever", "whole", "whom", "whose", "why", "will",
		"with", "within", "without", "would", "yet", "you", "your", "yours", "yourself", "yourselves",
		// Portuguese
		"ao", "aos", "as", "com", "como", "da", "das", "de", "dos", "do", "ela", "elas", "ele",
		"eles", "em", "entre", "era", "essa", "esse", "esta", "este", "eu", "foi", "foram", "há",
		"isso", "isto", "já", "lhe", "mais", "mas", "me", "mesmo", "muito", "na", "nas", "não",
		"nem", "no", "nos", "num", "numa", "os", "ou", "para", "pela", "pelas", "pelo", "pelos",
		"por", "qual", "quando", "que", "quem", "se", "sem", "ser", "seu", "seus", "sua", "suas",
		"são", "só", "também", "te", "tem", "têm", "um", "uma", "umas", "uns", "você", "à", "às",
		"é",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
