package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoPayload means nothing parseable remained after stripping the preamble.
	ErrNoPayload = errors.New("no structured payload in planner output")
	// ErrListPayload means the payload decoded to a list instead of an object.
	ErrListPayload = errors.New("planner output is a list, not an object")
	// ErrMissingFields means the object lacks a title or steps.
	ErrMissingFields = errors.New("planner output missing required fields")
)

// PlanParser turns raw model output into a Plan.
type PlanParser interface {
	Parse(raw string) (Plan, error)
}

// ParseStage records which link of the chain produced the plan.
type ParseStage string

const (
	StageStrict   ParseStage = "strict"
	StageLenient  ParseStage = "lenient"
	StageFallback ParseStage = "fallback"
)

// ParsePlan runs strict parsing, then lenient repair, then the default plan.
// It never returns an invalid plan.
func ParsePlan(raw, request string) (Plan, ParseStage, error) {
	p, err := StrictParser{}.Parse(raw)
	if err == nil {
		return p, StageStrict, nil
	}
	strictErr := err
	if errors.Is(err, ErrNoPayload) {
		return DefaultPlan(request), StageFallback, strictErr
	}
	p, err = LenientParser{}.Parse(raw)
	if err == nil {
		return p, StageLenient, strictErr
	}
	return DefaultPlan(request), StageFallback, fmt.Errorf("%v; repair: %w", strictErr, err)
}

var (
	thinkingBlock = regexp.MustCompile(`(?is)<(thinking|think)>.*?</(thinking|think)>`)
	openThinking  = regexp.MustCompile(`(?is)<(thinking|think)>`)
	codeFence     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// stripPreamble removes a reasoning block and code fences.
func stripPreamble(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if thinkingBlock.MatchString(s) {
		s = strings.TrimSpace(thinkingBlock.ReplaceAllString(s, ""))
	} else if loc := openThinking.FindStringIndex(s); loc != nil {
		// unterminated reasoning swallows the rest of the output
		s = ""
	}
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if s == "" {
		return "", ErrNoPayload
	}
	return s, nil
}

type rawStep struct {
	Type        *string `json:"step_type"`
	AltType     *string `json:"type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	NeedSearch  *bool   `json:"need_search"`
	AltSearch   *bool   `json:"needs_external_search"`
}

type rawPlan struct {
	Title            string    `json:"title"`
	Summary          string    `json:"summary"`
	Thought          string    `json:"thought"`
	Locale           string    `json:"locale"`
	HasEnoughContext *bool     `json:"has_enough_context"`
	Steps            []rawStep `json:"steps"`
}

// StrictParser accepts only a well formed JSON object with every required field.
type StrictParser struct{}

func (StrictParser) Parse(raw string) (Plan, error) {
	body, err := stripPreamble(raw)
	if err != nil {
		return Plan{}, err
	}
	if strings.HasPrefix(body, "[") {
		return Plan{}, ErrListPayload
	}
	var rp rawPlan
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&rp); err != nil {
		return Plan{}, fmt.Errorf("strict decode: %w", err)
	}
	if rp.HasEnoughContext == nil {
		return Plan{}, fmt.Errorf("%w: has_enough_context", ErrMissingFields)
	}
	for _, s := range rp.Steps {
		if s.Type == nil && s.AltType == nil {
			return Plan{}, fmt.Errorf("%w: step_type", ErrMissingFields)
		}
	}
	return rp.toPlan()
}

func (rp rawPlan) toPlan() (Plan, error) {
	p := Plan{
		Title:   strings.TrimSpace(rp.Title),
		Summary: strings.TrimSpace(rp.Summary),
		Locale:  rp.Locale,
	}
	if p.Summary == "" {
		p.Summary = strings.TrimSpace(rp.Thought)
	}
	p.HasEnoughContext = rp.HasEnoughContext == nil || *rp.HasEnoughContext
	for _, s := range rp.Steps {
		st := Step{Title: strings.TrimSpace(s.Title), Description: strings.TrimSpace(s.Description), Type: StepResearch}
		switch {
		case s.Type != nil:
			st.Type = ParseStepType(*s.Type)
		case s.AltType != nil:
			st.Type = ParseStepType(*s.AltType)
		}
		switch {
		case s.NeedSearch != nil:
			st.NeedsExternalSearch = *s.NeedSearch
		case s.AltSearch != nil:
			st.NeedsExternalSearch = *s.AltSearch
		}
		p.Steps = append(p.Steps, st)
	}
	if !p.Valid() {
		return Plan{}, ErrMissingFields
	}
	return p, nil
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	pyLiterals    = strings.NewReplacer(": True", ": true", ": False", ": false", ": None", ": null")
)

// LenientParser repairs common defects before decoding: prose around the
// object, trailing commas, single quotes, python literals and truncation.
type LenientParser struct{}

func (LenientParser) Parse(raw string) (Plan, error) {
	body, err := stripPreamble(raw)
	if err != nil {
		return Plan{}, err
	}
	if strings.HasPrefix(body, "[") {
		return Plan{}, ErrListPayload
	}
	obj := extractObject(body)
	if obj == "" {
		return Plan{}, fmt.Errorf("no JSON object found")
	}
	candidates := []string{obj, repairJSON(obj)}
	var lastErr error
	for _, c := range candidates {
		var generic interface{}
		if err := json.Unmarshal([]byte(c), &generic); err != nil {
			lastErr = err
			continue
		}
		m, ok := generic.(map[string]interface{})
		if !ok {
			return Plan{}, ErrListPayload
		}
		return planFromMap(m)
	}
	return Plan{}, fmt.Errorf("lenient decode: %w", lastErr)
}

// extractObject returns the first balanced object, closing it if truncated.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	var stack []byte
	inString := false
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == quote:
				inString = false
			}
			continue
		}
		switch ch {
		case '"', '\'':
			inString = true
			quote = ch
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return s[start : i+1]
			}
		}
	}
	// truncated output: close what is still open
	out := strings.TrimRight(s[start:], " \t\r\n,")
	if inString {
		out += string(quote)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

func repairJSON(s string) string {
	s = trailingComma.ReplaceAllString(s, "$1")
	s = pyLiterals.Replace(s)
	if !strings.Contains(s, `"`) && strings.Contains(s, "'") {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	return trailingComma.ReplaceAllString(s, "$1")
}

// planFromMap is the generic-map fallback used when field types drift.
func planFromMap(m map[string]interface{}) (Plan, error) {
	rp := rawPlan{}
	rp.Title, _ = m["title"].(string)
	rp.Summary, _ = m["summary"].(string)
	rp.Thought, _ = m["thought"].(string)
	rp.Locale, _ = m["locale"].(string)
	if v, ok := asBool(m["has_enough_context"]); ok {
		rp.HasEnoughContext = &v
	}
	steps, _ := m["steps"].([]interface{})
	for _, si := range steps {
		sm, ok := si.(map[string]interface{})
		if !ok {
			continue
		}
		var rs rawStep
		rs.Title, _ = sm["title"].(string)
		rs.Description, _ = sm["description"].(string)
		for _, key := range []string{"step_type", "type"} {
			if t, ok := sm[key].(string); ok {
				rs.Type = &t
				break
			}
		}
		for _, key := range []string{"need_search", "needs_external_search"} {
			if b, ok := asBool(sm[key]); ok {
				rs.NeedSearch = &b
				break
			}
		}
		rp.Steps = append(rp.Steps, rs)
	}
	return rp.toPlan()
}

func asBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	case float64:
		return t != 0, true
	}
	return false, false
}
