package mart

import (
	"fmt"
	"sort"
	"time"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
)

// Tiers is the number of quantile buckets per RFM measure.
const Tiers = 5

// OtherSegment is assigned when no rule matches.
const OtherSegment = "Others"

type tierRange struct{ lo, hi int }

func (r tierRange) has(v int) bool { return v >= r.lo && v <= r.hi }

// segmentRule matches a score tuple when every tier falls in its range.
type segmentRule struct {
	name    string
	r, f, m tierRange
}

// segmentRules are evaluated top to bottom; the first match wins.
// Several ranges overlap, so order is significant.
var segmentRules = []segmentRule{
	{"Champions", tierRange{4, 5}, tierRange{4, 5}, tierRange{4, 5}},
	{"Loyal Customers", tierRange{3, 5}, tierRange{3, 5}, tierRange{3, 5}},
	{"Potential Loyalists", tierRange{3, 5}, tierRange{2, 5}, tierRange{2, 5}},
	{"New Customers", tierRange{4, 5}, tierRange{1, 1}, tierRange{1, 5}},
	{"Promising", tierRange{3, 3}, tierRange{1, 1}, tierRange{1, 5}},
	{"Cannot Lose Them", tierRange{1, 1}, tierRange{4, 5}, tierRange{4, 5}},
	{"At Risk", tierRange{1, 2}, tierRange{3, 5}, tierRange{3, 5}},
	{"Lost", tierRange{1, 1}, tierRange{1, 2}, tierRange{1, 2}},
	{"Hibernating", tierRange{1, 2}, tierRange{1, 2}, tierRange{1, 5}},
}

// Segment maps an (r, f, m) tier tuple to its named segment.
func Segment(r, f, m int) string {
	for _, rule := range segmentRules {
		if rule.r.has(r) && rule.f.has(f) && rule.m.has(m) {
			return rule.name
		}
	}
	return OtherSegment
}

type customerRFM struct {
	key      int64
	id       int64
	last     string
	invoices set[string]
	monetary float64
}

// BuildRFM scores every customer with positive spend over the whole fact
// history. Recency is measured against the latest date in the facts.
func BuildRFM(lines []database.FactLine) []database.RFMScore {
	var ref string
	byCustomer := make(map[int64]*customerRFM)
	for _, l := range lines {
		if l.FullDate > ref {
			ref = l.FullDate
		}
		if l.CustomerKey == nil || l.CustomerID == nil {
			continue
		}
		c, ok := byCustomer[*l.CustomerKey]
		if !ok {
			c = &customerRFM{key: *l.CustomerKey, id: *l.CustomerID, invoices: set[string]{}}
			byCustomer[*l.CustomerKey] = c
		}
		if l.IsCancelled {
			continue
		}
		c.invoices.add(l.InvoiceNo)
		if l.FullDate > c.last {
			c.last = l.FullDate
		}
		if !l.IsReturn {
			c.monetary += l.LineTotal
		}
	}
	refDate, _ := time.Parse(database.DateLayout, ref)

	scores := make([]database.RFMScore, 0, len(byCustomer))
	for _, c := range byCustomer {
		monetary := round(c.monetary, 2)
		if monetary <= 0 {
			continue
		}
		last, _ := time.Parse(database.DateLayout, c.last)
		frequency := len(c.invoices)
		scores = append(scores, database.RFMScore{
			CustomerKey:   c.key,
			CustomerID:    c.id,
			RecencyDays:   int(refDate.Sub(last).Hours() / 24),
			Frequency:     frequency,
			Monetary:      monetary,
			AvgOrderValue: round(safeDiv(monetary, float64(frequency)), 2),
		})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].CustomerID < scores[j].CustomerID })

	assignTiers(scores, func(a, b database.RFMScore) bool { return a.RecencyDays > b.RecencyDays },
		func(s *database.RFMScore, tier int) { s.R = tier })
	assignTiers(scores, func(a, b database.RFMScore) bool { return a.Frequency < b.Frequency },
		func(s *database.RFMScore, tier int) { s.F = tier })
	assignTiers(scores, func(a, b database.RFMScore) bool { return a.Monetary < b.Monetary },
		func(s *database.RFMScore, tier int) { s.M = tier })

	for i := range scores {
		s := &scores[i]
		s.Score = fmt.Sprintf("%d%d%d", s.R, s.F, s.M)
		s.Segment = Segment(s.R, s.F, s.M)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].CustomerKey < scores[j].CustomerKey })
	return scores
}

// assignTiers orders scores worst to best by less (ties by customer id)
// and writes each row's quantile tier. scores must arrive sorted by id.
func assignTiers(scores []database.RFMScore, less func(a, b database.RFMScore) bool, set func(*database.RFMScore, int)) {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return less(scores[idx[a]], scores[idx[b]]) })
	for pos, i := range idx {
		set(&scores[i], Ntile(pos, len(scores), Tiers))
	}
}

// Ntile returns the 1-based bucket of position pos among n ordered rows split
// into buckets groups. Bucket sizes differ by at most one, larger ones first.
func Ntile(pos, n, buckets int) int {
	size := n / buckets
	extra := n % buckets
	big := extra * (size + 1)
	if pos < big {
		return pos/(size+1) + 1
	}
	return extra + (pos-big)/size + 1
}
