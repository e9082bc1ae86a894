package domain

import "strings"

// SanitizeCategories trims and lowercases every entry, drops blanks and
// removes duplicates keeping the first occurrence.
func SanitizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// DefaultPredefinedCategories is the category vocabulary offered to the AI
// when no explicit list is configured.
func DefaultPredefinedCategories() []string {
	return []string{
		// housing
		"aluguel", "hipoteca", "condomínio", "iptu", "água", "luz",
		"gás", "internet", "tv", "manutenção", "reforma",
		// food
		"supermercado", "restaurante", "delivery", "lanche", "café",
		// transport
		"combustível", "estacionamento", "transporte público",
		"aplicativo de transporte", "manutenção veículo", "ipva",
		"licenciamento", "seguro auto",
		// health
		"plano de saúde", "medicamentos", "consulta médica", "exames",
		"terapia", "academia", "farmácia",
		// education
		"mensalidade escolar", "material escolar", "curso", "livros",
		// leisure
		"streaming", "cinema", "teatro", "viagem", "hotel", "hobby",
		// shopping
		"vestuário", "calçados", "eletrônicos", "móveis", "presentes",
		// financial services
		"tarifa bancária", "juros", "investimento", "seguro", "empréstimo",
		// income
		"salário", "freelance", "bônus", "dividendos", "aluguel recebido",
		"reembolso", "venda",
		// taxes
		"imposto de renda", "inss", "fgts",
	}
}

// DefaultGenericCategories lists labels too vague to be useful; the AI is
// told to avoid them when no predefined list is given.
func DefaultGenericCategories() []string {
	return []string{
		"outros", "pix", "pagamento", "transferência", "diversos", "geral",
		"others", "payment", "transfer", "general", "miscellaneous",
	}
}
