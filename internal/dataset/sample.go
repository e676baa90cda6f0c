package dataset

import (
	"math/rand/v2"
	"sort"

	"github.com/rewired-gh/polycalib/internal/models"
)

// SampleMarkets keeps every trade of n randomly chosen markets. The choice
// depends only on the set of markets and seed, so the same inputs always give
// the same sample. Row order is preserved. When n covers every market the
// rows are returned unchanged.
func SampleMarkets(rows []models.TradeRow, n int, seed uint64) []models.TradeRow {
	ids := make([]string, 0)
	seen := make(map[string]bool)
	for i := range rows {
		if id := rows[i].ConditionID; !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if n <= 0 || n >= len(ids) {
		return rows
	}

	sort.Strings(ids)
	r := rand.New(rand.NewPCG(seed, 0))
	r.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	keep := make(map[string]bool, n)
	for _, id := range ids[:n] {
		keep[id] = true
	}
	sampled := make([]models.TradeRow, 0, len(rows))
	for i := range rows {
		if keep[rows[i].ConditionID] {
			sampled = append(sampled, rows[i])
		}
	}
	return sampled
}
