package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"

	input "github.com/hanpama/gqlinput/internal/input"
)

const errBodyTooLargeMessage = "body too large"

// parseRequest decodes a GET or POST GraphQL request. batch reports whether
// the body was a JSON array. Missing queries are left for input.New to
// reject so every operation fails the same way.
func parseRequest(r *http.Request, maxBody int64) (reqs []input.Request, batch bool, perr *gqlerror.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req := input.Request{Query: q.Get("query"), OperationName: q.Get("operationName")}
		if v := q.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return nil, false, gqlerror.Errorf("invalid 'variables' JSON")
			}
		}
		return []input.Request{req}, false, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, false, gqlerror.Errorf("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, gqlerror.Errorf("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, false, gqlerror.Errorf(errBodyTooLargeMessage)
	}

	body = []byte(strings.TrimSpace(string(body)))
	if len(body) > 0 && body[0] == '[' {
		var arr []input.Request
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, false, gqlerror.Errorf("invalid JSON")
		}
		if len(arr) == 0 {
			return nil, false, gqlerror.Errorf("empty batch")
		}
		return arr, true, nil
	}
	var req input.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, false, gqlerror.Errorf("invalid JSON")
	}
	return []input.Request{req}, false, nil
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
