package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"entity-api/internal/metadata"
	"entity-api/internal/storage"
)

var defaultMessages = map[string]string{
	"required": "The :attribute field is required.",
	"string":   "The :attribute must be a string.",
	"numeric":  "The :attribute must be a number.",
	"integer":  "The :attribute must be an integer.",
	"boolean":  "The :attribute field must be true or false.",
	"email":    "The :attribute must be a valid email address.",
	"min":      "The :attribute must be at least :min.",
	"max":      "The :attribute may not be greater than :max.",
	"in":       "The selected :attribute is invalid.",
	"regex":    "The :attribute format is invalid.",
	"date":     "The :attribute is not a valid date.",
	"image":    "The :attribute must be an image.",
	"expr":     "The :attribute is invalid.",
}

var emailRE = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// Validate runs the configured rules against the raw request. In onlyPresent
// mode only keys present in the request are checked.
func (h *Handler) Validate(ctx context.Context, rec *Record, in *Input, onlyPresent bool) error {
	vin := &ValidationInput{
		Values:      in.Values,
		Files:       in.Files,
		Rules:       h.config.Rules,
		Messages:    h.config.Messages,
		Titles:      h.titles(),
		Record:      rec,
		OnlyPresent: onlyPresent,
	}
	if h.config.Validator != nil {
		return h.config.Validator.Validate(ctx, vin)
	}
	return ValidateRules(vin)
}

// titles maps field names (and their files__ keys) to human names.
func (h *Handler) titles() map[string]string {
	titles := make(map[string]string)
	for _, set := range []*metadata.FieldSet{h.config.IndexFields, h.config.ItemFields} {
		for _, d := range set.All() {
			titles[d.Name] = d.DisplayName()
		}
	}
	out := make(map[string]string, 2*len(titles))
	for k, v := range titles {
		out[k] = v
		out[FilesPrefix+k] = v
	}
	return out
}

// ValidateRules is the built-in validator.
func ValidateRules(vin *ValidationInput) error {
	fields := make([]string, 0, len(vin.Rules))
	for f := range vin.Rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	in := &Input{Values: vin.Values, Files: vin.Files}
	var details []ErrorDetail
	for _, field := range fields {
		if vin.OnlyPresent && !in.Present(field) {
			continue
		}
		details = append(details, validateField(vin, in, field)...)
	}
	if len(details) > 0 {
		return ValidationError(details)
	}
	return nil
}

func validateField(vin *ValidationInput, in *Input, field string) []ErrorDetail {
	rules := vin.Rules[field]
	var value any
	var files []storage.File
	isFiles := strings.HasPrefix(field, FilesPrefix)
	if isFiles {
		files = in.Files[strings.TrimPrefix(field, FilesPrefix)]
		if len(files) > 0 {
			value = files
		}
	} else {
		value = vin.Values[field]
	}
	empty := value == nil || isEmpty(value)
	numeric := false
	for _, r := range rules {
		numeric = numeric || r.Name == "integer" || r.Name == "numeric"
	}

	var details []ErrorDetail
	for _, r := range rules {
		switch r.Name {
		case "nullable", "sometimes", "bail":
			if empty {
				return details
			}
			continue
		case "required":
			if empty {
				return append(details, failure(vin, field, r))
			}
			continue
		}
		if empty {
			continue
		}
		ok, err := checkRule(vin, r, value, files, numeric)
		if err != nil {
			details = append(details, ErrorDetail{Field: field, Rule: r.Name, Message: err.Error()})
			continue
		}
		if !ok {
			details = append(details, failure(vin, field, r))
		}
	}
	return details
}

func checkRule(vin *ValidationInput, r metadata.Rule, value any, files []storage.File, numeric bool) (bool, error) {
	v := scalar(value)
	switch r.Name {
	case "string":
		_, ok := v.(string)
		return ok, nil
	case "numeric":
		_, ok := parseNumber(v)
		return ok, nil
	case "integer":
		switch n := v.(type) {
		case int64, int:
			return true, nil
		case float64:
			return n == float64(int64(n)), nil
		case string:
			_, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			return err == nil, nil
		}
		return false, nil
	case "boolean":
		switch b := v.(type) {
		case bool:
			return true, nil
		case int64:
			return b == 0 || b == 1, nil
		case string:
			switch strings.ToLower(b) {
			case "0", "1", "true", "false":
				return true, nil
			}
		}
		return false, nil
	case "email":
		s, ok := v.(string)
		return ok && emailRE.MatchString(s), nil
	case "min", "max":
		limit, err := strconv.ParseFloat(r.Arg(0), 64)
		if err != nil {
			return false, fmt.Errorf("rule %s needs a numeric argument", r.Name)
		}
		size := measure(v, files, numeric)
		if r.Name == "min" {
			return size >= limit, nil
		}
		return size <= limit, nil
	case "in":
		s := fmt.Sprint(v)
		for _, a := range r.Args {
			if a == s {
				return true, nil
			}
		}
		return false, nil
	case "regex":
		re, err := compileRegex(r.Arg(0))
		if err != nil {
			return false, fmt.Errorf("invalid pattern: %v", err)
		}
		return re.MatchString(fmt.Sprint(v)), nil
	case "date":
		s, ok := v.(string)
		if !ok {
			_, isTime := v.(time.Time)
			return isTime, nil
		}
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return true, nil
			}
		}
		return false, nil
	case "image":
		for _, f := range files {
			ok, err := storage.DetectImage(f)
			if err != nil || !ok {
				return false, nil
			}
		}
		return len(files) > 0, nil
	case "expr":
		return evalRuleExpr(r.Arg(0), v, vin)
	}
	// Unknown rules pass.
	return true, nil
}

// measure is the size compared by min/max: numeric value, string length,
// list length, or file size in kilobytes. Strings of a numeric field count
// by value.
func measure(v any, files []storage.File, numeric bool) float64 {
	if len(files) > 0 {
		var max int64
		for _, f := range files {
			if f.Size() > max {
				max = f.Size()
			}
		}
		return float64(max) / 1024
	}
	if numeric {
		if n, ok := parseNumber(v); ok {
			return n
		}
	}
	switch val := v.(type) {
	case string:
		return float64(utf8.RuneCountInString(val))
	case []any:
		return float64(len(val))
	}
	n, _ := parseNumber(v)
	return n
}

func parseNumber(v any) (float64, bool) {
	if f, ok := toFloat64(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

func failure(vin *ValidationInput, field string, r metadata.Rule) ErrorDetail {
	msg, ok := vin.Messages[field+"."+r.Name]
	if !ok {
		msg, ok = vin.Messages[r.Name]
	}
	if !ok {
		msg, ok = defaultMessages[r.Name]
	}
	if !ok {
		msg = "The :attribute is invalid."
	}
	title, ok := vin.Titles[field]
	if !ok {
		title = metadata.Title(strings.TrimPrefix(field, FilesPrefix))
	}
	msg = strings.ReplaceAll(msg, ":attribute", title)
	msg = strings.ReplaceAll(msg, ":min", r.Arg(0))
	msg = strings.ReplaceAll(msg, ":max", r.Arg(0))
	return ErrorDetail{Field: field, Rule: r.Name, Message: msg}
}

var (
	regexCache sync.Map // pattern -> *regexp.Regexp
	exprCache  sync.Map // expression -> *vm.Program
)

// compileRegex accepts both "^a+$" and the delimited "/^a+$/" form.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	p := pattern
	if len(p) >= 2 && p[0] == '/' && strings.LastIndexByte(p, '/') > 0 {
		end := strings.LastIndexByte(p, '/')
		flags := p[end+1:]
		p = p[1:end]
		if strings.Contains(flags, "i") {
			p = "(?i)" + p
		}
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// evalRuleExpr runs an expr: rule. The expression sees value, values (the
// request) and record (the stored attributes, empty on create).
func evalRuleExpr(expression string, value any, vin *ValidationInput) (bool, error) {
	var prog *vm.Program
	if cached, ok := exprCache.Load(expression); ok {
		prog = cached.(*vm.Program)
	} else {
		compiled, err := expr.Compile(expression, expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile rule expression: %w", err)
		}
		exprCache.Store(expression, compiled)
		prog = compiled
	}

	record := map[string]any{}
	if vin.Record != nil {
		record = vin.Record.Attributes()
	}
	values := make(map[string]any, len(vin.Values))
	for k, v := range vin.Values {
		values[k] = scalar(v)
	}
	result, err := expr.Run(prog, map[string]any{
		"value":  value,
		"values": values,
		"record": record,
	})
	if err != nil {
		return false, fmt.Errorf("rule evaluation error: %v", err)
	}
	ok, _ := result.(bool)
	return ok, nil
}
