package queryapi

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/ollyscale/core/internal/ollyerr"
	"github.com/ollyscale/core/internal/store"
)

func parseInt64Query(r *http.Request, key string, def int64) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ollyerr.Invalidf("%s must be an integer", key)
	}
	return n, nil
}

func parseIntQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, ollyerr.Invalidf("%s must be an integer", key)
	}
	return n, nil
}

// parseEventWindow builds a Window over the event time field from the
// common start_time/end_time query params shared by §6's GET search
// endpoints.
func parseEventWindow(r *http.Request) (store.Window, error) {
	start, err := parseInt64Query(r, "start_time", 0)
	if err != nil {
		return store.Window{}, err
	}
	end, err := parseInt64Query(r, "end_time", 0)
	if err != nil {
		return store.Window{}, err
	}
	if end < start {
		return store.Window{}, ollyerr.Invalidf("end_time must be >= start_time")
	}
	return store.Window{StartUnixNanos: start, EndUnixNanos: end, Field: store.TimeFieldEvent}, nil
}

func parsePaging(r *http.Request, defaultLimit int) store.Paging {
	limit, _ := parseIntQuery(r, "limit", defaultLimit)
	offset, _ := parseIntQuery(r, "offset", 0)
	return store.Paging{Limit: clampLimit(limit, defaultLimit), Offset: offset, Cursor: r.URL.Query().Get("cursor")}
}

// parseTraceID decodes a lowercase-hex trace id (spec §6 "Identifiers are
// lowercase hex on the wire") into the fixed 16-byte array form.
func parseTraceID(s string) ([16]byte, error) {
	var id [16]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return id, ollyerr.Invalidf("trace_id must be 32 lowercase hex characters")
	}
	copy(id[:], b)
	return id, nil
}

// searchRequestBody is the JSON body accepted by POST /api/spans/search and
// the time_range portion of POST /api/service-map (spec §6).
type searchRequestBody struct {
	TimeRange struct {
		StartTime int64  `json:"start_time"`
		EndTime   int64  `json:"end_time"`
		Field     string `json:"time_field,omitempty"`
	} `json:"time_range"`
	Filters []struct {
		Field string `json:"field"`
		Op    string `json:"op"`
		Value string `json:"value"`
	} `json:"filters"`
	Pagination struct {
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

func (b searchRequestBody) window() (store.Window, error) {
	if b.TimeRange.EndTime < b.TimeRange.StartTime {
		return store.Window{}, ollyerr.Invalidf("time_range.end_time must be >= time_range.start_time")
	}
	field := store.TimeFieldEvent
	switch b.TimeRange.Field {
	case "ingest":
		field = store.TimeFieldIngest
	case "observed":
		field = store.TimeFieldObserved
	}
	return store.Window{StartUnixNanos: b.TimeRange.StartTime, EndUnixNanos: b.TimeRange.EndTime, Field: field}, nil
}

func (b searchRequestBody) filters() ([]store.Filter, error) {
	out := make([]store.Filter, 0, len(b.Filters))
	for _, f := range b.Filters {
		op := store.FilterOp(f.Op)
		switch op {
		case store.OpEq, store.OpNe, store.OpGt, store.OpGte, store.OpLt, store.OpLte, store.OpContains, store.OpRegex:
		default:
			return nil, ollyerr.Invalidf("unsupported filter operator %q", f.Op)
		}
		out = append(out, store.Filter{Field: f.Field, Op: op, Value: f.Value})
	}
	return out, nil
}

func (b searchRequestBody) paging(defaultLimit int) store.Paging {
	return store.Paging{
		Limit:  clampLimit(b.Pagination.Limit, defaultLimit),
		Offset: b.Pagination.Offset,
		Cursor: b.Pagination.Cursor,
	}
}
