package corpus

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/japaniel/sragetl/pkg/query"
	"github.com/japaniel/sragetl/pkg/retrieval"
)

// Snippets renders the stored data of year as index documents: headline
// indicators, regional distribution, state mortality and the vaccination
// report. It fails with *query.DataUnavailableError when the year is not loaded.
func Snippets(ctx context.Context, q *query.Querier, year int) ([]retrieval.Input, error) {
	p := message.NewPrinter(language.BrazilianPortuguese)
	y := strconv.Itoa(year)
	meta := func(typ, topic string) map[string]any {
		return map[string]any{"source": "DATASUS", "year": year, "type": typ, "topic": topic}
	}

	ind, err := q.ClinicalIndicators(ctx, year)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("Dados DATASUS " + y + " - Indicadores clínicos de SRAG:\n")
	sb.WriteString(p.Sprintf("- Total de casos: %d\n", ind.TotalCases))
	sb.WriteString(p.Sprintf("- Óbitos: %d (taxa de mortalidade %.2f%%)\n", ind.Deaths, ind.MortalityRate))
	sb.WriteString(p.Sprintf("- Casos em UTI: %d (taxa de UTI %.2f%%)\n", ind.ICUCases, ind.ICURate))
	sb.WriteString(p.Sprintf("- Vacinados: %d (taxa de vacinação %.2f%%)", ind.Vaccinated, ind.VaccinationRate))
	out := []retrieval.Input{{Content: sb.String(), Metadata: meta("statistics", "geral")}}

	demo, err := q.DemographicBreakdown(ctx, year)
	if err != nil {
		return nil, err
	}
	sb.Reset()
	sb.WriteString("Distribuição de casos por região - DATASUS " + y + ":\n")
	writeGroups(&sb, p, demo.ByRegion)
	sb.WriteString("\nDistribuição de casos por faixa etária:\n")
	writeGroups(&sb, p, demo.ByAgeBand)
	out = append(out, retrieval.Input{Content: strings.TrimRight(sb.String(), "\n"), Metadata: meta("statistics", "casos")})

	mortality, err := q.MortalityByState(ctx, year)
	if err != nil {
		return nil, err
	}
	if len(mortality) > 0 {
		sb.Reset()
		sb.WriteString("Mortalidade por estado - DATASUS " + y + ":\n")
		for _, s := range mortality {
			sb.WriteString(p.Sprintf("- %s: %.2f%% (%d óbitos em %d casos)\n", s.State, s.Rate, s.Count, s.Total))
		}
		out = append(out, retrieval.Input{Content: strings.TrimRight(sb.String(), "\n"), Metadata: meta("analysis", "mortalidade")})
	}

	report, err := q.VaccinationReport(ctx, year)
	if err != nil {
		return nil, err
	}
	out = append(out, retrieval.Input{Content: report, Metadata: meta("analysis", "vacinacao")})
	return out, nil
}

func writeGroups(sb *strings.Builder, p *message.Printer, groups []query.GroupCount) {
	for _, g := range groups {
		sb.WriteString(p.Sprintf("- %s: %d casos (%.2f%%)\n", g.Label, g.Cases, g.Percent))
	}
}
