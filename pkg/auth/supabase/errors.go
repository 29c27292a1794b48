package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/rendis/flowctx/pkg/auth"
)

// GoTrue has answered with several error shapes over time:
//
//	{"error": "...", "error_description": "..."}
//	{"code": 400, "msg": "..."}
//	{"error_code": "...", "msg": "..."}
//	{"error": "...", "message": "..."}
const errorShapeQuery = `{
  error: ((.error // .error_code // .code // "unknown") | tostring),
  error_description: ((.error_description // .msg // .message // "") | tostring)
}`

var errorShape = mustCompile(errorShapeQuery)

func mustCompile(src string) *gojq.Code {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("parse jq %q: %v", src, err))
	}
	code, err := gojq.Compile(q)
	if err != nil {
		panic(fmt.Sprintf("compile jq %q: %v", src, err))
	}
	return code
}

// providerError turns a non-2xx token response into an auth error. Bodies that
// are not JSON objects become KindOther.
func providerError(ctx context.Context, status int, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return auth.OtherError(fmt.Errorf("token endpoint returned %d: %s", status, truncate(body)))
	}
	if _, ok := doc.(map[string]any); !ok {
		return auth.OtherError(fmt.Errorf("token endpoint returned %d: %s", status, truncate(body)))
	}

	iter := errorShape.RunWithContext(ctx, doc)
	v, ok := iter.Next()
	if !ok {
		return auth.OtherError(fmt.Errorf("token endpoint returned %d", status))
	}
	if err, isErr := v.(error); isErr {
		return auth.OtherError(fmt.Errorf("token endpoint returned %d: normalize error body: %w", status, err))
	}
	shape, _ := v.(map[string]any)
	code, _ := shape["error"].(string)
	desc, _ := shape["error_description"].(string)
	return auth.SupabaseError(code, desc)
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
