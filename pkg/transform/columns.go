package transform

// EssentialColumns are the source columns kept from an extract.
var EssentialColumns = []string{
	"DT_NOTIFIC", // notification date
	"DT_SIN_PRI", // symptom onset
	"DT_INTERNA", // hospital admission
	"DT_EVOLUCA", // outcome date
	"SG_UF",
	"ID_MUNICIP",
	"CS_SEXO",
	"NU_IDADE_N",
	"EVOLUCAO",
	"UTI",
	"VACINA",
	"CLASSI_FIN",
	// symptoms
	"FEBRE", "TOSSE", "GARGANTA", "DISPNEIA", "DESC_RESP", "SATURACAO",
	"DIARREIA", "VOMITO", "OUTRO_SIN",
	// comorbidities
	"CARDIOPATI", "HEMATOLOGI", "SIND_DOWN", "HEPATICA", "ASMA", "DIABETES",
	"NEUROLOGIC", "PNEUMOPATI", "IMUNODEPRE", "RENAL", "OBESIDADE",
}

// flagSourceColumns are the symptom/comorbidity columns in db.FlagColumns order.
var flagSourceColumns = EssentialColumns[12:]

// dateLayouts are tried in order when coercing date cells.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
}

// AgeBands are the age-band labels in display order. The last one collects
// ages that cannot be placed (negative values).
var AgeBands = []string{"0-2", "3-12", "13-18", "19-30", "31-50", "51-65", "65+", "Ignorado"}

// ageEdges are the left-closed bin edges of the first seven bands; the "65+"
// band is open-ended.
var ageEdges = []int64{0, 2, 12, 18, 30, 50, 65}

// AgeBand maps an age in years to its band.
func AgeBand(age int64) string {
	if age < ageEdges[0] {
		return AgeBands[len(AgeBands)-1]
	}
	for i := len(ageEdges) - 1; i >= 0; i-- {
		if age >= ageEdges[i] {
			return AgeBands[i]
		}
	}
	return AgeBands[len(AgeBands)-1]
}

// Regions maps each state code to its macro-region.
var Regions = map[string]string{
	"AC": "Norte", "AP": "Norte", "AM": "Norte", "PA": "Norte", "RO": "Norte", "RR": "Norte", "TO": "Norte",
	"AL": "Nordeste", "BA": "Nordeste", "CE": "Nordeste", "MA": "Nordeste", "PB": "Nordeste",
	"PE": "Nordeste", "PI": "Nordeste", "RN": "Nordeste", "SE": "Nordeste",
	"GO": "Centro-Oeste", "MT": "Centro-Oeste", "MS": "Centro-Oeste", "DF": "Centro-Oeste",
	"ES": "Sudeste", "MG": "Sudeste", "RJ": "Sudeste", "SP": "Sudeste",
	"PR": "Sul", "RS": "Sul", "SC": "Sul",
}

// Code tables for the description columns.
var (
	SexCodes = map[int64]string{1: "Masculino", 2: "Feminino", 9: "Ignorado"}

	OutcomeCodes = map[int64]string{1: "Cura", 2: "Óbito", 3: "Óbito por outras causas", 9: "Ignorado"}

	YesNoCodes = map[int64]string{1: "Sim", 2: "Não", 9: "Ignorado"}

	ClassificationCodes = map[int64]string{
		1: "SRAG por influenza",
		2: "SRAG por outro vírus respiratório",
		3: "SRAG por outro agente etiológico",
		4: "SRAG não especificado",
		5: "SRAG por covid-19",
	}
)

// sexLetters maps the letter codes used by recent extracts onto the numeric codes.
var sexLetters = map[string]int64{"M": 1, "F": 2, "I": 9}

// Outcome codes used by the query layer.
const (
	OutcomeCure  = 1
	OutcomeDeath = 2
	CodeYes      = 1
)
