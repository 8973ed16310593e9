package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/maps>; rel="maps"`,
		`</api/v1/sources>; rel="sources"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/maps>; rel="maps"`,
	},
	"/api/v1/maps": {
		`</api/v1/sources>; rel="sources"`,
		`</api/v1/tables>; rel="tables"`,
	},
	"/api/v1/maps/{map}": {
		`</api/v1/maps>; rel="collection"`,
	},
	"/api/v1/sources": {
		`</api/v1/maps>; rel="maps"`,
		`</api/v1/data/preview>; rel="preview"`,
	},
	"/api/v1/tables": {
		`</api/v1/data/preview>; rel="preview"`,
	},
}

// mapLinks are added to every operation below /api/v1/maps/{map}.
var mapLinks = []struct{ suffix, rel string }{
	{"/style", "style"},
	{"/bindings", "bindings"},
	{"/stream", "stream"},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		if strings.HasPrefix(op.Path, "/api/v1/maps/{map}") {
			base := "/api/v1/maps/" + ctx.Param("map")
			for _, l := range mapLinks {
				ctx.AppendHeader("Link", fmt.Sprintf(`<%s%s>; rel="%s"`, base, l.suffix, l.rel))
			}
			if strings.HasPrefix(op.Path, "/api/v1/maps/{map}/bindings/{id}") {
				ctx.AppendHeader("Link", fmt.Sprintf(`<%s/bindings>; rel="collection"`, base))
			}
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		return v, nil
	}
}
