package content

import (
	"encoding/json"
	"strings"

	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/modes"
)

// parseLLMOutput maps raw model text to a record per the output_format of
// an llm content spec.
func parseLLMOutput(text string, spec *modes.ContentSpec, fallback domain.Record) domain.Record {
	switch spec.OutputFormat {
	case "text_split":
		return parseTextSplit(text, spec, fallback)
	case "json":
		return parseJSONFields(text, spec, fallback)
	default:
		fields := spec.OutputFields
		if len(fields) == 0 {
			fields = []string{"text"}
		}
		return domain.Record{fields[0]: text}
	}
}

func parseTextSplit(text string, spec *modes.ContentSpec, fallback domain.Record) domain.Record {
	sep := spec.OutputSeparator
	if sep == "" {
		sep = "|"
	}
	fields := spec.OutputFields
	if len(fields) == 0 {
		fields = []string{"text"}
	}
	parts := strings.Split(text, sep)

	rec := domain.Record{}
	for i, fieldName := range fields {
		if i < len(parts) {
			rec[fieldName] = strings.Trim(strings.TrimSpace(parts[i]), "\"“”")
		} else if fb, ok := fallback[fieldName]; ok {
			rec[fieldName] = fb
		} else {
			rec[fieldName] = ""
		}
	}
	return rec
}

func parseJSONFields(text string, spec *modes.ContentSpec, fallback domain.Record) domain.Record {
	var data map[string]any
	if err := json.Unmarshal([]byte(cleanJSONResponse(text)), &data); err != nil {
		return cloneRecord(fallback)
	}
	if len(spec.OutputFields) == 0 {
		return data
	}
	rec := domain.Record{}
	for _, f := range spec.OutputFields {
		if v, ok := data[f]; ok {
			rec[f] = v
		} else if fb, ok := fallback[f]; ok {
			rec[f] = fb
		} else {
			rec[f] = ""
		}
	}
	return rec
}

// parseSchemaOutput fills an llm_json record from the output_schema,
// falling back to each field's declared default.
func parseSchemaOutput(text string, spec *modes.ContentSpec, fallback domain.Record) domain.Record {
	var data map[string]any
	if err := json.Unmarshal([]byte(cleanJSONResponse(text)), &data); err != nil {
		return cloneRecord(fallback)
	}
	rec := domain.Record{}
	for fieldName, fieldDef := range spec.OutputSchema {
		if v, ok := data[fieldName]; ok {
			rec[fieldName] = v
		} else if fieldDef.Default != nil {
			rec[fieldName] = fieldDef.Default
		} else {
			rec[fieldName] = ""
		}
	}
	return rec
}

func cloneRecord(rec domain.Record) domain.Record {
	out := make(domain.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
