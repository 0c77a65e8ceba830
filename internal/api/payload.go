package api

import (
	"bytes"
	"encoding/json"
	"maps"
	"mime/multipart"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"entity-api/internal/engine"
	"entity-api/internal/storage"
)

// jsonDataField carries a JSON object through a multipart body so that
// numbers, booleans and lists keep their types.
const jsonDataField = "__json_data"

// parseInput normalizes a write request into an engine.Input. JSON bodies keep
// their numbers, multipart bodies merge form values, __json_data and files__ parts.
func parseInput(c *fiber.Ctx) (*engine.Input, error) {
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))
	switch {
	case strings.HasPrefix(ct, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return nil, engine.InvalidPayloadError("Invalid multipart body")
		}
		return multipartInput(form)
	case strings.HasPrefix(ct, fiber.MIMEApplicationForm):
		raw := map[string][]string{}
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			raw[string(k)] = append(raw[string(k)], string(v))
		})
		in := engine.NewInput(formValues(raw))
		return in, mergeJSONData(in, raw)
	}

	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return engine.NewInput(nil), nil
	}
	values, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	return engine.NewInput(values), nil
}

func multipartInput(form *multipart.Form) (*engine.Input, error) {
	in := engine.NewInput(formValues(form.Value))
	if err := mergeJSONData(in, form.Value); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field, ok := strings.CutPrefix(name, engine.FilesPrefix)
		if !ok {
			continue
		}
		field, multiple := strings.CutSuffix(field, "[]")
		for _, fh := range form.File[name] {
			in.AddFile(field, storage.FromMultipart(fh), multiple)
		}
	}
	return in, nil
}

// formValues flattens form fields: "name[]" always yields a list, a repeated
// plain name yields a list, anything else a single string.
func formValues(raw map[string][]string) map[string]any {
	out := make(map[string]any, len(raw))
	for key, vals := range raw {
		if key == jsonDataField {
			continue
		}
		name, list := strings.CutSuffix(key, "[]")
		if !list && len(vals) == 1 {
			out[name] = vals[0]
			continue
		}
		items := make([]any, 0, len(vals))
		for _, v := range vals {
			items = append(items, v)
		}
		out[name] = items
	}
	return out
}

func mergeJSONData(in *engine.Input, raw map[string][]string) error {
	data := raw[jsonDataField]
	if len(data) == 0 || strings.TrimSpace(data[0]) == "" {
		return nil
	}
	values, err := decodeObject([]byte(data[0]))
	if err != nil {
		return err
	}
	maps.Copy(in.Values, values)
	return nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, engine.InvalidPayloadError("Invalid JSON body")
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}
