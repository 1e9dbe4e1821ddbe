// Package classify implements the rule-based incident classifier. Scoring is
// pure computation over an immutable rule set: no I/O, no suspension points.
package classify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/core/rules"
)

// MinScore is the minimum confidence threshold. A best score below this
// leaves the row unclassified.
const MinScore = 2.0

const (
	baseMatchScore = 2.0
	modalityWeight = 1.5
	criterionScore = 1.0
)

// Result is the classifier output for one raw row.
type Result struct {
	RowID         int64  `json:"row_id"`
	RawIncidentID int64  `json:"raw_incident_id"`
	Categoria     string `json:"categoria,omitempty"`
	Subtipo       string `json:"subtipo,omitempty"`
	Observaciones string `json:"observaciones"`
}

// Classify scores every row against the rule set and returns one result per
// input row, order preserving. The strategy is recorded by callers; hybrid
// currently scores identically to rules.
func Classify(rows []domain.RawIncident, rs *rules.RuleSet, _ domain.Strategy) []Result {
	out := make([]Result, 0, len(rows))
	for i := range rows {
		out = append(out, classifyRow(&rows[i], rs))
	}
	return out
}

func classifyRow(row *domain.RawIncident, rs *rules.RuleSet) Result {
	text := searchText(row)

	res := Result{RowID: row.ID, RawIncidentID: row.ID}

	// Track the strictly best score. Ties keep the earlier category: the
	// dictionary's declaration order is the documented tie-break.
	bestIdx := -1
	bestScore := 0.0

	for ci := range rs.Categories {
		cat := &rs.Categories[ci]

		score := 0.0
		for _, kw := range cat.Keywords() {
			if strings.Contains(text, kw) {
				score += baseMatchScore
			}
		}

		// First modality with any hit wins; later modalities are not
		// scanned for this category.
		for _, mod := range cat.Modalidades {
			ms := modalityScore(text, &mod)
			if ms > 0 {
				score += ms * modalityWeight
				break
			}
		}

		if score > bestScore {
			bestScore = score
			bestIdx = ci
		}
	}

	if bestIdx < 0 {
		res.Observaciones = "No se encontraron coincidencias en el diccionario"
		return res
	}
	if bestScore < MinScore {
		res.Observaciones = fmt.Sprintf(
			"Puntuación insuficiente para clasificación automática (%s)", formatScore(bestScore))
		return res
	}

	winner := &rs.Categories[bestIdx]
	res.Categoria = winner.Calificacion
	for _, mod := range winner.Modalidades {
		if modalityScore(text, &mod) > 0 {
			res.Subtipo = mod.Nombre
			break
		}
	}
	res.Observaciones = fmt.Sprintf("Clasificado por reglas (puntuación: %s)", formatScore(bestScore))
	return res
}

func modalityScore(text string, mod *rules.Modality) float64 {
	score := 0.0
	for _, criterio := range mod.Criterios {
		if criterio != "" && strings.Contains(text, strings.ToLower(criterio)) {
			score += criterionScore
		}
	}
	return score
}

// searchText concatenates all field values of the row into one lowercase
// haystack.
func searchText(row *domain.RawIncident) string {
	parts := make([]string, 0, len(row.Fields))
	for _, f := range row.Fields {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
