package llm

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/querylift/backend/pkg/jsonx"
)

// GenerateJSON asks g for a JSON answer and returns the first balanced
// object found in the response. On any failure the result is an empty
// object, so callers read fields with their own defaults.
func GenerateJSON(ctx context.Context, g Generator, req Request) (gjson.Result, error) {
	raw, err := g.Generate(ctx, req)
	if err != nil {
		return gjson.Parse("{}"), err
	}
	return gjson.Parse(jsonx.ObjectOrEmpty(raw)), nil
}
