package categorization

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// Confidence values assigned by the rule stage.
const (
	ruleBaseConfidence      = 0.7
	ruleMaxSpecificity      = 0.2
	creditHighConfidence    = 0.6
	creditLowConfidence     = 0.4
	debitFallbackConfidence = 0.3
	defaultMaxCategories    = 3
)

// RuleSpec is one entry of the rule table as written in YAML.
type RuleSpec struct {
	Pattern    string   `yaml:"pattern"`
	Categories []string `yaml:"categories"`
}

// FallbackSpec configures the result used when no rule matches.
type FallbackSpec struct {
	IncomeThreshold string   `yaml:"income_threshold"`
	Credit          []string `yaml:"credit"`
	Debit           []string `yaml:"debit"`
}

// RuleFile is the on-disk layout of a rule table.
type RuleFile struct {
	MaxCategories int          `yaml:"max_categories"`
	Rules         []RuleSpec   `yaml:"rules"`
	Fallback      FallbackSpec `yaml:"fallback"`
}

type rule struct {
	source     string
	re         *regexp.Regexp
	categories []string
	confidence float64
}

// RuleSet is a compiled, ordered rule table. It is immutable after
// construction and safe for concurrent use.
type RuleSet struct {
	rules           []rule
	maxCategories   int
	incomeThreshold decimal.Decimal
	creditFallback  []string
	debitFallback   []string
}

// Match is the outcome of running a transaction through the rule table.
type Match struct {
	Categories []string
	Confidence float64
	// Matched is false when the result came from the type/amount fallback.
	Matched bool
}

// NewRuleSet compiles a rule table. Patterns are matched case-insensitively
// against the lowercased description.
func NewRuleSet(f RuleFile) (*RuleSet, error) {
	rs := &RuleSet{
		maxCategories:   f.MaxCategories,
		incomeThreshold: decimal.NewFromInt(1000),
		creditFallback:  domain.SanitizeCategories(f.Fallback.Credit),
		debitFallback:   domain.SanitizeCategories(f.Fallback.Debit),
	}
	if rs.maxCategories <= 0 {
		rs.maxCategories = defaultMaxCategories
	}
	if f.Fallback.IncomeThreshold != "" {
		th, err := decimal.NewFromString(f.Fallback.IncomeThreshold)
		if err != nil {
			return nil, fmt.Errorf("NewRuleSet: income_threshold %q: %w", f.Fallback.IncomeThreshold, err)
		}
		rs.incomeThreshold = th
	}

	for i, spec := range f.Rules {
		if strings.TrimSpace(spec.Pattern) == "" {
			return nil, fmt.Errorf("NewRuleSet: rule %d: empty pattern", i)
		}
		re, err := regexp.Compile("(?i)" + spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("NewRuleSet: rule %d (%q): %w", i, spec.Pattern, err)
		}
		cats := domain.SanitizeCategories(spec.Categories)
		if len(cats) == 0 {
			return nil, fmt.Errorf("NewRuleSet: rule %d (%q): no categories", i, spec.Pattern)
		}
		// Longer patterns are more specific and earn more confidence.
		specificity := float64(utf8.RuneCountInString(spec.Pattern)) / 100
		if specificity > ruleMaxSpecificity {
			specificity = ruleMaxSpecificity
		}
		rs.rules = append(rs.rules, rule{
			source:     spec.Pattern,
			re:         re,
			categories: cats,
			confidence: ruleBaseConfidence + specificity,
		})
	}

	return rs, nil
}

// LoadRuleSet reads a YAML rule table from path.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRuleSet: %w", err)
	}
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("LoadRuleSet: parse %s: %w", path, err)
	}
	return NewRuleSet(f)
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Apply runs every rule against tx's description. All matching rules
// contribute categories in table order; the confidence is the best among
// them. Without a match the type/amount fallback is returned.
func (rs *RuleSet) Apply(tx *domain.Transaction) Match {
	description := strings.ToLower(tx.Description)

	var matched []string
	best := 0.0
	for _, r := range rs.rules {
		if !r.re.MatchString(description) {
			continue
		}
		matched = append(matched, r.categories...)
		if r.confidence > best {
			best = r.confidence
		}
	}

	unique := domain.SanitizeCategories(matched)
	if len(unique) > 0 {
		if len(unique) > rs.maxCategories {
			unique = unique[:rs.maxCategories]
		}
		return Match{Categories: unique, Confidence: best, Matched: true}
	}

	if tx.Type == domain.TransactionTypeCredit {
		conf := creditLowConfidence
		if tx.Amount.GreaterThan(rs.incomeThreshold) {
			conf = creditHighConfidence
		}
		return Match{Categories: clone(rs.creditFallback), Confidence: conf}
	}
	return Match{Categories: clone(rs.debitFallback), Confidence: debitFallbackConfidence}
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// DefaultRuleSet returns the built-in Brazilian-Portuguese rule table.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(DefaultRuleFile())
	if err != nil {
		panic(fmt.Sprintf("categorization: built-in rules do not compile: %v", err))
	}
	return rs
}

// DefaultRuleFile is the built-in rule table in its declarative form.
func DefaultRuleFile() RuleFile {
	return RuleFile{
		MaxCategories: defaultMaxCategories,
		Rules: []RuleSpec{
			// housing
			{`aluguel`, []string{"aluguel", "moradia"}},
			{`condomini|condomín`, []string{"condomínio", "moradia"}},
			{`iptu`, []string{"iptu", "imposto", "moradia"}},
			{`agua|água|saneamento`, []string{"água", "utilidades", "moradia"}},
			{`luz|energia|eletric`, []string{"luz", "energia elétrica", "utilidades", "moradia"}},
			{`gas|gás`, []string{"gás", "utilidades", "moradia"}},
			{`internet|fibra|banda larga|net|telecom`, []string{"internet", "telecomunicação", "moradia"}},

			// food
			{`supermercado|mercado|mart|super|carrefour|pão de açúcar`, []string{"supermercado", "alimentação"}},
			{`restaurante|rest\.|lanchonete`, []string{"restaurante", "alimentação"}},
			{`ifood|rappi|delivery|entrega`, []string{"delivery", "alimentação"}},

			// transport
			{`combustivel|combustível|gasolina|etanol|posto|ipiranga|shell|petrobras`, []string{"combustível", "transporte"}},
			{`estacionamento|parking|valet`, []string{"estacionamento", "transporte"}},
			{`uber|99|taxi|táxi|cabify`, []string{"aplicativo de transporte", "transporte"}},
			{`metro|metrô|trem|onibus|ônibus|brt|bilhete|passagem`, []string{"transporte público", "transporte"}},
			{`ipva`, []string{"ipva", "imposto", "transporte"}},

			// health
			{`plano de saude|plano de saúde|unimed|amil|sulamerica|bradesco saude`, []string{"plano de saúde", "saúde"}},
			{`farmacia|farmácia|droga|medicamento`, []string{"farmácia", "medicamentos", "saúde"}},
			{`academia|gym|smart fit`, []string{"academia", "fitness", "saúde"}},
			{`médico|medico|consulta|clinica|clínica|psicólogo|psicólog`, []string{"consulta médica", "saúde"}},
			{`hospital|emergência|emergencia|pronto`, []string{"hospital", "emergência médica", "saúde"}},

			// education
			{`mensalidade|faculdade|universidade|colégio|colegio|escola`, []string{"mensalidade escolar", "educação"}},
			{`livro|livraria|book`, []string{"livros", "educação"}},
			{`curso|workshop|treinamento`, []string{"curso", "educação", "desenvolvimento profissional"}},

			// leisure
			{`netflix|disney|hbo|prime|spotify|streaming`, []string{"streaming", "assinatura", "lazer"}},
			{`cinema|cinemark|ingresso|movie|filme`, []string{"cinema", "entretenimento", "lazer"}},
			{`viagem|hotel|airbnb|booking|hospedagem|pousada`, []string{"viagem", "hospedagem", "lazer"}},

			// financial services
			{`tarifa|anuidade|manutenção conta|manut\. conta`, []string{"tarifa bancária", "serviços financeiros"}},
			{`seguro|porto seguro|seguradora`, []string{"seguro", "serviços financeiros"}},
			{`investimento|aplicação|resgate`, []string{"investimento", "serviços financeiros"}},
			{`empréstimo|emprestimo|financiamento|parcela`, []string{"empréstimo", "financiamento", "serviços financeiros"}},

			// income
			{`salario|salário|pagamento|folha|vencimento`, []string{"salário", "renda"}},
			{`rendimento|dividendo`, []string{"rendimento", "dividendos", "renda"}},
		},
		Fallback: FallbackSpec{
			IncomeThreshold: "1000",
			Credit:          []string{"renda", "entrada"},
			Debit:           []string{"despesa"},
		},
	}
}
