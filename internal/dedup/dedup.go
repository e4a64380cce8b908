package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/bizarik/brkTrd-zr0/internal/models"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
)

// boilerplate terms are stripped before hashing so outlets that prepend
// "BREAKING:" or "JUST IN:" do not defeat exact-match dedup. Matched on
// word boundaries; "groundbreaking" survives.
var boilerplate = regexp.MustCompile(
	`\b(just in|must read|breaking|alert|update|exclusive|watch|hot|trending|developing)\b`)

// Normalize lowercases, strips punctuation and boilerplate, and collapses
// whitespace. Hashing and fuzzy comparison both run on this form.
func Normalize(text string) string {
	s := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	s = boilerplate.ReplaceAllString(b.String(), " ")
	return strings.Join(strings.Fields(s), " ")
}

// Hash returns the dedup key for a headline: sha256 over ticker plus the
// normalized text, so the same wire story on two tickers stays distinct.
func Hash(ticker, normalized string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(ticker) + "|" + normalized))
	return hex.EncodeToString(sum[:])
}

// Matcher flags near-duplicate headlines for the same ticker.
type Matcher struct {
	threshold float64
	proximity time.Duration
	lev       *metrics.Levenshtein
	dice      *metrics.SorensenDice
}

func NewMatcher(threshold float64, proximity time.Duration) *Matcher {
	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = false
	dice := metrics.NewSorensenDice()
	dice.CaseSensitive = false
	return &Matcher{threshold: threshold, proximity: proximity, lev: lev, dice: dice}
}

// Similarity scores two normalized texts in [0,1]. Token order differences
// ("Apple beats estimates" vs "Estimates beaten by Apple") are handled by
// also comparing sorted-token forms; a trailing-tail rewrite ("beats
// earnings" vs "beats earnings estimates") by the token-set ratio. The best
// score wins.
func (m *Matcher) Similarity(a, b string) (score float64) {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	// A metric panic on pathological input degrades to exact-match only.
	defer func() {
		if r := recover(); r != nil {
			observ.Log("similarity_panic", map[string]any{"panic": r})
			score = 0
		}
	}()
	best := strutil.Similarity(a, b, m.lev)
	if d := strutil.Similarity(a, b, m.dice); d > best {
		best = d
	}
	sa, sb := sortTokens(a), sortTokens(b)
	if l := strutil.Similarity(sa, sb, m.lev); l > best {
		best = l
	}
	if ts := m.tokenSetRatio(a, b); ts > best {
		best = ts
	}
	return best
}

// tokenSetRatio compares the sorted token intersection against each side's
// intersection-plus-remainder form. When one headline's tokens are a subset
// of the other's the intersection equals the shorter side and the score is 1.
func (m *Matcher) tokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	var inter, restA, restB []string
	for t := range ta {
		if tb[t] {
			inter = append(inter, t)
		} else {
			restA = append(restA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			restB = append(restB, t)
		}
	}
	if len(inter) == 0 {
		return 0
	}
	sort.Strings(inter)
	sort.Strings(restA)
	sort.Strings(restB)
	base := strings.Join(inter, " ")
	fullA := strings.TrimSpace(base + " " + strings.Join(restA, " "))
	fullB := strings.TrimSpace(base + " " + strings.Join(restB, " "))
	best := strutil.Similarity(base, fullA, m.lev)
	if s := strutil.Similarity(base, fullB, m.lev); s > best {
		best = s
	}
	if s := strutil.Similarity(fullA, fullB, m.lev); s > best {
		best = s
	}
	return best
}

func earlier(a, b *models.Headline) bool {
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.Before(b.PublishedAt)
	}
	return a.FirstSeenAt.Before(b.FirstSeenAt)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(s) {
		set[f] = true
	}
	return set
}

// IsDuplicate reports whether candidate duplicates prior: same ticker, text
// similarity at or above the threshold, and published within the proximity
// window.
func (m *Matcher) IsDuplicate(candidate, prior *models.Headline) bool {
	if candidate.Ticker != prior.Ticker {
		return false
	}
	if candidate.Hash == prior.Hash {
		return true
	}
	gap := candidate.PublishedAt.Sub(prior.PublishedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap > m.proximity {
		return false
	}
	return m.Similarity(candidate.NormalizedText, prior.NormalizedText) >= m.threshold
}

// FindPrimary scans prior headlines for the one the candidate duplicates,
// preferring the earliest published match so the first telling of the story
// stays primary. First-seen time breaks publish-time ties.
func (m *Matcher) FindPrimary(candidate *models.Headline, priors []models.Headline) *models.Headline {
	var primary *models.Headline
	for i := range priors {
		p := &priors[i]
		if p.ID == candidate.ID || p.IsDuplicate {
			continue
		}
		if !m.IsDuplicate(candidate, p) {
			continue
		}
		if primary == nil || earlier(p, primary) {
			primary = p
		}
	}
	if primary != nil {
		observ.IncCounter("headlines_duplicate_total", map[string]string{"ticker": candidate.Ticker})
	}
	return primary
}

func sortTokens(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
