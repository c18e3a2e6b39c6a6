package query

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// VaccinationReport renders the state vaccination ranking of a year as a short
// Portuguese summary: the lowest coverage, the top three and the national mean.
func (q *Querier) VaccinationReport(ctx context.Context, year int) (string, error) {
	a, err := q.Availability(ctx, year)
	if err != nil {
		return "", err
	}
	if !a.Available {
		return "", &DataUnavailableError{Year: year, Status: a.Status}
	}
	ranking, err := q.StateVaccinationRanking(ctx, year)
	if err != nil {
		return "", err
	}

	if len(ranking) == 0 {
		return "Dados de vacinação não encontrados para " + strconv.Itoa(year), nil
	}

	// Years are written without the digit grouping the printer applies.
	p := message.NewPrinter(language.BrazilianPortuguese)
	var sb strings.Builder
	lowest := ranking[0]
	sb.WriteString("ANÁLISE DE VACINAÇÃO - " + strconv.Itoa(year) + "\n(Baseado em dados DATASUS locais)\n\n")
	sb.WriteString(p.Sprintf("MENOR COBERTURA VACINAL:\n%s: %.1f%%\n(%d de %d casos)\n\n",
		lowest.State, lowest.Rate, lowest.Count, lowest.Total))
	sb.WriteString("TOP 3 MAIORES COBERTURAS:\n")
	for i := len(ranking) - 1; i >= 0 && i >= len(ranking)-3; i-- {
		sb.WriteString(p.Sprintf("• %s: %.1f%%\n", ranking[i].State, ranking[i].Rate))
	}

	var sum float64
	for _, s := range ranking {
		sum += s.Rate
	}
	sb.WriteString(p.Sprintf("\nMÉDIA NACIONAL: %.1f%%", sum/float64(len(ranking))))
	sb.WriteString(p.Sprintf("\nTotal de estados analisados: %d", len(ranking)))
	sb.WriteString(p.Sprintf("\nFonte: Banco DATASUS local (%d registros)", a.Records))
	return sb.String(), nil
}
