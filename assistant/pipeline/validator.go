package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	ports "github.com/darapay/assistant-core/assistant/pipeline/ports"
)

// Severity ranks validation findings.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Finding is one validation error or warning.
type Finding struct {
	Type     string
	Message  string
	Severity Severity
}

// ValidationReport is the immutable outcome of one validation pass. It is
// report-only: the text is never edited or censored, enforcement is the
// caller's responsibility.
type ValidationReport struct {
	IsValid  bool
	Errors   []Finding
	Warnings []Finding
	Severity Severity
}

// ValidatorConfig bounds the static checks.
type ValidatorConfig struct {
	MinLength        int     // runes; shorter is an error (default: 10)
	MaxLength        int     // runes; longer is a warning (default: 4000)
	MinScriptRatio   float64 // minimum share of expected-script letters (default: 0.30)
	MinPlausibleRate float64 // broad interest bound, percent (default: 0.05)
	MaxPlausibleRate float64 // broad interest bound, percent (default: 48)
}

// DefaultValidatorConfig returns sensible defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinLength:        10,
		MaxLength:        4000,
		MinScriptRatio:   0.30,
		MinPlausibleRate: 0.05,
		MaxPlausibleRate: 48,
	}
}

// Forbidden-content patterns. Any match is a critical error: the assistant
// must never promise approval, give investment advice, or ask for secrets.
var forbiddenPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"approval_guarantee", regexp.MustCompile(`(?i)guaranteed?\s+(?:loan\s+)?approval|100\s*%\s*approv|approval\s+is\s+guaranteed|ធានា\s*(?:ថា)?\s*អនុម័ត|អនុម័ត\s*100\s*%`)},
	{"investment_advice", regexp.MustCompile(`(?i)you\s+should\s+(?:buy|invest)|recommend\s+invest(?:ing)?|buy\s+(?:stocks?|crypto|bitcoin)|គួរ(?:តែ)?\s*វិនិយោគ|ទិញ\s*(?:ភាគហ៊ុន|គ្រីបតូ)`)},
	{"credential_request", regexp.MustCompile(`(?i)(?:send|give|share|tell|enter)\s+(?:me\s+|us\s+)?(?:your\s+)?(?:password|pin|otp|passcode)|ផ្ញើ\s*លេខសម្ងាត់|ប្រាប់\s*(?:លេខ)?\s*(?:otp|pin|សម្ងាត់)`)},
}

// Vague-language patterns. Warning only: hedging is poor assistant tone but
// not a correctness problem.
var vaguePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:maybe|perhaps|possibly|probably)\b`),
	regexp.MustCompile(`(?i)\bi(?:'m| am)? not (?:entirely |really )?sure\b`),
	regexp.MustCompile(`(?i)\bit depends\b`),
	regexp.MustCompile(`ប្រហែល(?:ជា)?`),
	regexp.MustCompile(`មិន\s*ច្បាស់`),
}

var (
	percentRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	amountRe  = regexp.MustCompile(`(?:\$|USD\s*|ដុល្លារ\s*)(\d{1,3}(?:,\d{3})*(?:\.\d+)?)|(\d{1,3}(?:,\d{3})*(?:\.\d+)?)\s*(?:USD|ដុល្លារ|\$)`)
)

// proximityWindow is how far (in bytes) around a product mention rate and
// amount figures are attributed to that product.
const proximityWindow = 160

// ResponseValidator statically checks generated text for length, language
// mix, domain-numeric accuracy and forbidden content. It is pure and
// side-effect-free apart from trace events, and it never raises: an internal
// fault fails open so a validator bug cannot block all traffic.
type ResponseValidator struct {
	cfg      ValidatorConfig
	products []ProductRef
	tracer   ports.Tracer
}

// NewResponseValidator creates a validator over the shipped product
// reference table. Zero-value config fields fall back to defaults.
func NewResponseValidator(cfg ValidatorConfig, tracer ports.Tracer) (*ResponseValidator, error) {
	return NewResponseValidatorWithTable(cfg, nil, tracer)
}

// NewResponseValidatorWithTable creates a validator with a custom product
// table (raw JSON). The table is schema-checked; an invalid table is a
// constructor error.
func NewResponseValidatorWithTable(cfg ValidatorConfig, tableJSON []byte, tracer ports.Tracer) (*ResponseValidator, error) {
	def := DefaultValidatorConfig()
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.MinScriptRatio <= 0 {
		cfg.MinScriptRatio = def.MinScriptRatio
	}
	if cfg.MinPlausibleRate <= 0 {
		cfg.MinPlausibleRate = def.MinPlausibleRate
	}
	if cfg.MaxPlausibleRate <= 0 {
		cfg.MaxPlausibleRate = def.MaxPlausibleRate
	}
	if tracer == nil {
		tracer = NopTracer{}
	}

	products, err := loadProductTable(tableJSON)
	if err != nil {
		return nil, err
	}
	return &ResponseValidator{cfg: cfg, products: products, tracer: tracer}, nil
}

// Validate runs every check unconditionally and independently and aggregates
// the findings. Identical input yields an identical report.
func (v *ResponseValidator) Validate(ctx context.Context, responseText, originalQuery string, metadata map[string]string) (report ValidationReport) {
	defer func() {
		if rec := recover(); rec != nil {
			// Fail open: a validator bug must not block all traffic.
			v.tracer.Event(ctx, "validation_fault", map[string]any{"panic": fmt.Sprint(rec)})
			report = ValidationReport{
				IsValid:  true,
				Warnings: []Finding{{Type: "validator_fault", Message: "internal validator fault, checks skipped", Severity: SeverityLow}},
				Severity: SeverityLow,
			}
		}
	}()

	var findings []Finding
	findings = append(findings, v.checkLength(responseText)...)
	findings = append(findings, v.checkLanguage(responseText, originalQuery)...)
	findings = append(findings, v.checkNumericAccuracy(responseText)...)
	findings = append(findings, v.checkForbiddenContent(responseText)...)
	findings = append(findings, v.checkVagueness(responseText)...)
	findings = append(findings, v.checkStructure(responseText)...)

	report = aggregate(findings)
	if !report.IsValid {
		v.tracer.Event(ctx, "validation_failed", map[string]any{
			"severity": report.Severity.String(),
			"errors":   len(report.Errors),
		})
	}
	return report
}

// errorSeverities mark a finding as an error rather than a warning.
func isError(f Finding) bool { return f.Severity >= SeverityMedium }

// aggregate splits findings into errors and warnings and derives the overall
// severity: the maximum across findings, critical forced by any critical
// error.
func aggregate(findings []Finding) ValidationReport {
	report := ValidationReport{IsValid: true, Severity: SeverityNone}
	for _, f := range findings {
		if isError(f) {
			report.Errors = append(report.Errors, f)
			report.IsValid = false
		} else {
			report.Warnings = append(report.Warnings, f)
		}
		if f.Severity > report.Severity {
			report.Severity = f.Severity
		}
	}
	return report
}

func (v *ResponseValidator) checkLength(text string) []Finding {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	switch {
	case n < v.cfg.MinLength:
		return []Finding{{
			Type:     "length",
			Message:  fmt.Sprintf("response too short: %d runes, minimum %d", n, v.cfg.MinLength),
			Severity: SeverityHigh,
		}}
	case n > v.cfg.MaxLength:
		return []Finding{{
			Type:     "length",
			Message:  fmt.Sprintf("response too long: %d runes, maximum %d", n, v.cfg.MaxLength),
			Severity: SeverityLow,
		}}
	}
	return nil
}

// checkLanguage verifies the expected-script share of the reply. Khmer is
// the expected script; the check is skipped when the user's own query
// contains no Khmer at all, since the assistant mirrors the user's language.
func (v *ResponseValidator) checkLanguage(text, originalQuery string) []Finding {
	if originalQuery != "" && countScript(originalQuery, unicode.Khmer) == 0 {
		return nil
	}

	khmer := countScript(text, unicode.Khmer)
	latin := countScript(text, unicode.Latin)
	letters := khmer + latin
	if letters == 0 {
		return nil
	}

	ratio := float64(khmer) / float64(letters)
	switch {
	case khmer == 0:
		return []Finding{{
			Type:     "language",
			Message:  "response contains no Khmer script",
			Severity: SeverityCritical,
		}}
	case ratio < v.cfg.MinScriptRatio:
		return []Finding{{
			Type:     "language",
			Message:  fmt.Sprintf("Khmer script share %.0f%% below minimum %.0f%%", ratio*100, v.cfg.MinScriptRatio*100),
			Severity: SeverityHigh,
		}}
	}
	return nil
}

// checkNumericAccuracy verifies every stated interest rate and amount. A
// figure near a recognized product mention must fall inside that product's
// reference range; any rate anywhere outside the broad plausible bound is an
// error even without a product match.
func (v *ResponseValidator) checkNumericAccuracy(text string) []Finding {
	var findings []Finding
	lowered := strings.ToLower(text)

	for _, rate := range extractPercents(lowered) {
		if rate.value <= v.cfg.MinPlausibleRate || rate.value > v.cfg.MaxPlausibleRate {
			findings = append(findings, Finding{
				Type:     "numeric",
				Message:  fmt.Sprintf("implausible interest rate %.2f%%", rate.value),
				Severity: SeverityHigh,
			})
		}
	}

	for _, p := range v.products {
		for _, alias := range p.Aliases {
			at := strings.Index(lowered, alias)
			if at < 0 {
				continue
			}
			window := sliceWindow(lowered, at, len(alias))
			for _, rate := range extractPercents(window) {
				if rate.value < p.MinRate || rate.value > p.MaxRate {
					findings = append(findings, Finding{
						Type:     "numeric",
						Message:  fmt.Sprintf("%s rate %.2f%% outside reference range %.1f–%.1f%%", p.Name, rate.value, p.MinRate, p.MaxRate),
						Severity: SeverityHigh,
					})
				}
			}
			for _, amt := range extractAmounts(window) {
				if amt < p.MinAmount || amt > p.MaxAmount {
					findings = append(findings, Finding{
						Type:     "numeric",
						Message:  fmt.Sprintf("%s amount $%.0f outside reference range $%.0f–%.0f", p.Name, amt, p.MinAmount, p.MaxAmount),
						Severity: SeverityHigh,
					})
				}
			}
			break // first alias hit per product is enough
		}
	}
	return findings
}

func (v *ResponseValidator) checkForbiddenContent(text string) []Finding {
	var findings []Finding
	for _, p := range forbiddenPatterns {
		if p.re.MatchString(text) {
			findings = append(findings, Finding{
				Type:     "forbidden_content",
				Message:  "forbidden content: " + p.kind,
				Severity: SeverityCritical,
			})
		}
	}
	return findings
}

func (v *ResponseValidator) checkVagueness(text string) []Finding {
	var findings []Finding
	for _, re := range vaguePatterns {
		if m := re.FindString(text); m != "" {
			findings = append(findings, Finding{
				Type:     "vague_language",
				Message:  "vague phrasing: " + strings.TrimSpace(m),
				Severity: SeverityLow,
			})
		}
	}
	return findings
}

// structureCheckThreshold is the rune count past which an unstructured wall
// of text is flagged.
const structureCheckThreshold = 600

func (v *ResponseValidator) checkStructure(text string) []Finding {
	if utf8.RuneCountInString(text) <= structureCheckThreshold {
		return nil
	}
	structured := strings.Contains(text, "\n\n") ||
		strings.Contains(text, "\n- ") ||
		strings.Contains(text, "\n• ") ||
		strings.Contains(text, "\n#") ||
		strings.HasPrefix(text, "- ") ||
		strings.HasPrefix(text, "#")
	if structured {
		return nil
	}
	return []Finding{{
		Type:     "structure",
		Message:  "long response lacks headings, bullets or paragraph breaks",
		Severity: SeverityLow,
	}}
}

// countScript counts the letters of text belonging to one script table.
func countScript(text string, table *unicode.RangeTable) int {
	n := 0
	for _, r := range text {
		if unicode.Is(table, r) {
			n++
		}
	}
	return n
}

// sliceWindow returns the byte window around a match for proximity checks.
func sliceWindow(s string, at, matchLen int) string {
	start := at - proximityWindow
	if start < 0 {
		start = 0
	}
	end := at + matchLen + proximityWindow
	if end > len(s) {
		end = len(s)
	}
	// Snap to rune boundaries.
	for start > 0 && !utf8.RuneStart(s[start]) {
		start--
	}
	for end < len(s) && !utf8.RuneStart(s[end]) {
		end++
	}
	return s[start:end]
}

type percentMatch struct {
	value float64
}

func extractPercents(s string) []percentMatch {
	var out []percentMatch
	for _, m := range percentRe.FindAllStringSubmatch(s, -1) {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil {
			out = append(out, percentMatch{value: v})
		}
	}
	return out
}

func extractAmounts(s string) []float64 {
	var out []float64
	for _, m := range amountRe.FindAllStringSubmatch(s, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
