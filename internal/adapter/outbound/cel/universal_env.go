package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/fathomsec/fathom/internal/domain/redundancy"
)

// NewRedundancyEnvironment creates the CEL environment used to evaluate
// redundancy-rule and module-applicability expressions against a
// candidate URL. It exposes:
//   - url, host, path: the candidate's URL broken into parts
//   - link_count, form_count, cookie_count, header_count: page-shape hints
//   - glob(pattern, value), path_has_segment(path, segment): helper functions
func NewRedundancyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("url", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("link_count", cel.IntType),
		cel.Variable("form_count", cel.IntType),
		cel.Variable("cookie_count", cel.IntType),
		cel.Variable("header_count", cel.IntType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
					v := value.Value().(string)
					p := pattern.Value().(string)
					matched, _ := filepath.Match(p, v)
					return types.Bool(matched)
				}),
			),
		),

		cel.Function("path_has_segment",
			cel.Overload("path_has_segment_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pathVal, segmentVal ref.Val) ref.Val {
					p := pathVal.Value().(string)
					seg := segmentVal.Value().(string)
					for _, part := range strings.Split(p, "/") {
						if part == seg {
							return types.Bool(true)
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from a redundancy.MatchContext.
func BuildActivation(mc redundancy.MatchContext) map[string]any {
	return map[string]any{
		"url":          mc.URL,
		"host":         mc.Host,
		"path":         mc.Path,
		"link_count":   int64(mc.LinkCount),
		"form_count":   int64(mc.FormCount),
		"cookie_count": int64(mc.CookieCount),
		"header_count": int64(mc.HeaderCount),
	}
}
