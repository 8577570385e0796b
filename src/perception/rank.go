package perception

import (
	"image"
	"sort"
	"strings"

	"desktop-commander/src/ocr"
)

// searchTable returns rows whose text contains query (case-insensitive) and
// whose score is at least minConfidence, offset by origin and ranked.
func searchTable(table *ocr.Table, query string, minConfidence float64, origin image.Point) []Match {
	matches := []Match{}
	if table == nil {
		return matches
	}

	needle := strings.ToLower(query)
	for _, row := range table.Rows {
		if row.Text == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(row.Text), needle) {
			continue
		}
		conf := row.Conf.Score()
		if conf < minConfidence {
			continue
		}
		matches = append(matches, textMatch(row.Text, conf, rowBox(row, origin)))
	}

	rank(matches)
	return matches
}

// tableToMatches converts every row with visible text, in engine order,
// without a confidence floor.
func tableToMatches(table *ocr.Table, origin image.Point) []Match {
	matches := []Match{}
	if table == nil {
		return matches
	}
	for _, row := range table.Rows {
		if strings.TrimSpace(row.Text) == "" {
			continue
		}
		matches = append(matches, textMatch(row.Text, row.Conf.Score(), rowBox(row, origin)))
	}
	return matches
}

// rank sorts by descending confidence; ties keep engine order.
func rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
}

// Top ranks matches, drops those below minConfidence and keeps at most limit.
// A limit of zero or less keeps all.
func Top(matches []Match, minConfidence float64, limit int) []Match {
	ranked := make([]Match, len(matches))
	copy(ranked, matches)
	rank(ranked)

	out := []Match{}
	for _, m := range ranked {
		if limit > 0 && len(out) == limit {
			break
		}
		if m.Confidence >= minConfidence {
			out = append(out, m)
		}
	}
	return out
}

func rowBox(row ocr.Row, origin image.Point) BoundingBox {
	return BoundingBox{
		X:      row.Left + origin.X,
		Y:      row.Top + origin.Y,
		Width:  row.Width,
		Height: row.Height,
	}
}
