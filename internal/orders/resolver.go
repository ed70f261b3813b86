package orders

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	errx "github.com/chative-support/server/internal/core/error"
	logx "github.com/chative-support/server/pkg/logger"
)

// DefaultMatchThreshold is the minimum similarity score, on a 0-100 scale,
// a catalog product needs to be accepted as a match.
const DefaultMatchThreshold = 70

// Match is the catalog product a free-text fragment resolved to.
type Match struct {
	ProductID uint
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Score     int
}

type Resolver struct {
	threshold int
}

func NewResolver(threshold int) *Resolver {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Resolver{threshold: threshold}
}

// Resolve loads the catalog through db (usually the caller's transaction) and
// returns the best product for fragment.
func (r *Resolver) Resolve(ctx context.Context, db *gorm.DB, fragment string) (*Match, error) {
	var catalog []Product
	if err := db.WithContext(ctx).Order("product_id").Find(&catalog).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	return r.Best(fragment, catalog)
}

// Best picks the single highest-scoring product. On equal scores the product
// that comes first in catalog order wins.
func (r *Resolver) Best(fragment string, catalog []Product) (*Match, error) {
	cleaned := CleanProductName(fragment)
	if cleaned == "" {
		return nil, ErrEmptyProductName
	}

	var best *Match
	for _, p := range catalog {
		score := Similarity(cleaned, p.Name)
		if best == nil || score > best.Score {
			best = &Match{ProductID: p.ProductID, SKU: p.SKU, Name: p.Name, UnitPrice: p.UnitPrice, Score: score}
		}
	}
	if best == nil || best.Score < r.threshold {
		return nil, fmt.Errorf("%w: %q", ErrNoProductMatch, cleaned)
	}
	logx.Debug().
		Str("fragment", fragment).
		Str("sku", best.SKU).
		Int("score", best.Score).
		Msg("Resolved product name")
	return best, nil
}

// CleanProductName strips digits and surrounding whitespace, so "2 Floor Mats"
// becomes "Floor Mats".
func CleanProductName(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, s))
}

// Similarity scores two product names from 0 to 100. It takes the best of a
// plain edit-distance ratio, a partial (substring window) ratio weighted by
// 0.9, and token-order-insensitive ratios weighted by 0.95.
func Similarity(a, b string) int {
	p1, p2 := normalize(a), normalize(b)
	if p1 == "" || p2 == "" {
		return 0
	}

	base := ratio(p1, p2)
	l1, l2 := len([]rune(p1)), len([]rune(p2))
	lenRatio := float64(max(l1, l2)) / float64(min(l1, l2))

	const unbase = 0.95
	if lenRatio < 1.5 {
		tsort := tokenSortRatio(p1, p2) * unbase
		tset := tokenSetRatio(p1, p2) * unbase
		return int(math.Round(max(base, tsort, tset)))
	}

	partialScale := 0.9
	if lenRatio >= 8 {
		partialScale = 0.6
	}
	partial := partialRatio(p1, p2) * partialScale
	ptsort := partialRatio(sortTokens(p1), sortTokens(p2)) * unbase * partialScale
	return int(math.Round(max(base, partial, ptsort)))
}

// normalize lowercases and replaces anything that is not a letter or digit
// with a single space.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	var best float64
	for i := 0; i+len(short) <= len(long); i++ {
		if r := ratio(string(short), string(long[i:i+len(short)])); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func tokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

func tokenSetRatio(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	var common, onlyA, onlyB []string
	for t := range setA {
		if setB[t] {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	withA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	best := ratio(withA, withB)
	if sect != "" {
		best = max(best, ratio(sect, withA), ratio(sect, withB))
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		set[t] = true
	}
	return set
}
