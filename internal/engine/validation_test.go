package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entity-api/internal/metadata"
	"entity-api/internal/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func parseRuleMap(specs map[string]string) map[string][]metadata.Rule {
	out := make(map[string][]metadata.Rule, len(specs))
	for field, spec := range specs {
		out[field] = metadata.ParseRules(spec)
	}
	return out
}

func validationDetails(t *testing.T, vin *ValidationInput) []ErrorDetail {
	t.Helper()
	err := ValidateRules(vin)
	if err == nil {
		return nil
	}
	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
	return appErr.Details
}

func TestValidateRulesPasses(t *testing.T) {
	vin := &ValidationInput{
		Values: map[string]any{
			"name":  "Ann",
			"email": "ann@example.com",
			"age":   "42",
			"role":  "editor",
			"code":  "ABC",
			"born":  "1990-02-03",
			"flag":  "1",
		},
		Rules: parseRuleMap(map[string]string{
			"name":  "required|string|max:10",
			"email": "required|email",
			"age":   "integer|min:18|max:99",
			"role":  "in:admin,editor",
			"code":  "regex:/^[a-z]+$/i",
			"born":  "date",
			"flag":  "boolean",
			"bio":   "nullable|min:5",
		}),
	}
	assert.Empty(t, validationDetails(t, vin))
}

func TestValidateRulesFailures(t *testing.T) {
	vin := &ValidationInput{
		Values: map[string]any{
			"name":  "",
			"email": "not-an-email",
			"age":   "12",
			"role":  "guest",
			"code":  "abc1",
			"born":  "yesterday",
			"flag":  "maybe",
		},
		Rules: parseRuleMap(map[string]string{
			"name":  "required|max:10",
			"email": "email",
			"age":   "integer|min:18",
			"role":  "in:admin,editor",
			"code":  "regex:^[a-z]+$",
			"born":  "date",
			"flag":  "boolean",
		}),
		Titles: map[string]string{"name": "Full Name"},
	}

	details := validationDetails(t, vin)
	byField := make(map[string]ErrorDetail, len(details))
	for _, d := range details {
		byField[d.Field] = d
	}
	require.Len(t, byField, 7)
	assert.Equal(t, "The Full Name field is required.", byField["name"].Message)
	assert.Equal(t, "The Email must be a valid email address.", byField["email"].Message)
	assert.Equal(t, "The Age must be at least 18.", byField["age"].Message)
	assert.Equal(t, "in", byField["role"].Rule)
	assert.Equal(t, "regex", byField["code"].Rule)
	assert.Equal(t, "date", byField["born"].Rule)
	assert.Equal(t, "boolean", byField["flag"].Rule)

	// Details come out sorted by field.
	assert.Equal(t, "age", details[0].Field)
}

func TestValidateRulesMessages(t *testing.T) {
	vin := &ValidationInput{
		Values: map[string]any{"title": "", "slug": "x"},
		Rules: parseRuleMap(map[string]string{
			"title": "required",
			"slug":  "min:3",
		}),
		Messages: map[string]string{
			"title.required": "Give it a name.",
			"min":            ":attribute needs :min characters.",
		},
	}

	details := validationDetails(t, vin)
	require.Len(t, details, 2)
	assert.Equal(t, "slug", details[0].Field)
	assert.Equal(t, "Slug needs 3 characters.", details[0].Message)
	assert.Equal(t, "Give it a name.", details[1].Message)
}

func TestValidateRulesOnlyPresent(t *testing.T) {
	vin := &ValidationInput{
		Values:      map[string]any{"views": "3"},
		Rules:       parseRuleMap(map[string]string{"title": "required", "views": "integer|max:2"}),
		OnlyPresent: true,
	}

	details := validationDetails(t, vin)
	require.Len(t, details, 1)
	assert.Equal(t, "views", details[0].Field)
	assert.Equal(t, "max", details[0].Rule)
}

func TestValidateRulesExpr(t *testing.T) {
	rules := parseRuleMap(map[string]string{"username": "expr:value != 'root' && len(value) > 2"})

	assert.Empty(t, validationDetails(t, &ValidationInput{Values: map[string]any{"username": "ann"}, Rules: rules}))

	details := validationDetails(t, &ValidationInput{Values: map[string]any{"username": "root"}, Rules: rules})
	require.Len(t, details, 1)
	assert.Equal(t, "The Username is invalid.", details[0].Message)

	cross := parseRuleMap(map[string]string{"ends_at": "expr:value > values.starts_at"})
	details = validationDetails(t, &ValidationInput{Values: map[string]any{"starts_at": int64(5), "ends_at": int64(3)}, Rules: cross})
	require.Len(t, details, 1)
	assert.Equal(t, "ends_at", details[0].Field)
}

func TestValidateRulesFiles(t *testing.T) {
	rules := parseRuleMap(map[string]string{"files__cover": "required|image|max:1"})

	png := storage.BytesFile{Name: "a.png", Data: pngHeader}
	vin := &ValidationInput{Files: map[string][]storage.File{"cover": {png}}, Rules: rules}
	assert.Empty(t, validationDetails(t, vin))

	text := storage.BytesFile{Name: "a.png", Data: []byte("just some text")}
	vin = &ValidationInput{Files: map[string][]storage.File{"cover": {text}}, Rules: rules}
	details := validationDetails(t, vin)
	require.Len(t, details, 1)
	assert.Equal(t, "image", details[0].Rule)
	assert.Equal(t, "The Cover must be an image.", details[0].Message)

	big := storage.BytesFile{Name: "big.png", Data: append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 2048)...)}
	vin = &ValidationInput{Files: map[string][]storage.File{"cover": {big}}, Rules: rules}
	details = validationDetails(t, vin)
	require.Len(t, details, 1)
	assert.Equal(t, "max", details[0].Rule)

	vin = &ValidationInput{Rules: rules}
	details = validationDetails(t, vin)
	require.Len(t, details, 1)
	assert.Equal(t, "required", details[0].Rule)
}

func TestHandlerValidatorOverride(t *testing.T) {
	f := newFixture(t)
	typ, ok := f.resolver.ResolveEntity("articles")
	require.True(t, ok)
	var seen *ValidationInput
	typ.Configure = func(c *Config) {
		c.Validator = ValidatorFunc(func(_ context.Context, vin *ValidationInput) error {
			seen = vin
			return nil
		})
	}

	// The built-in rules would reject the negative views.
	_, err := f.handler("articles").Create(f.ctx, NewInput(map[string]any{"title": "Fine", "views": "-5"}))
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "Title", seen.Titles["title"])
	assert.Equal(t, "Cover", seen.Titles["files__cover"])
	assert.NotEmpty(t, seen.Rules["title"])
}
