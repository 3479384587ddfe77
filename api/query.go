package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// EarthRadiusKm is the mean earth radius used to convert a kilometer
// radius into the angular radius $centerSphere expects
const EarthRadiusKm float64 = 6378.1

// DefaultRadiusKm is applied when lat/lng are given without a radius
const DefaultRadiusKm = 10

// Pagination defaults; limit is capped so a single request cannot drain a
// collection
const (
	DefaultPage  = int64(1)
	DefaultLimit = int64(10)
	MaxLimit     = int64(100)
)

// reservedKeys never become equality filters; they drive the other stages
var reservedKeys = map[string]bool{
	"page":   true,
	"sort":   true,
	"limit":  true,
	"fields": true,
	"search": true,
	"lat":    true,
	"lng":    true,
	"radius": true,
}

// comparisonOps maps the bracket-style operator suffix (field[gte]=v) to
// the mongo operator. Values containing "gte" etc. are inert; only the
// key suffix selects an operator.
var comparisonOps = map[string]string{
	"gte": "$gte",
	"gt":  "$gt",
	"lte": "$lte",
	"lt":  "$lt",
}

// IssueQuery composes an issue listing query from raw request parameters.
// Stages are applied in strict order (each narrows the previous set):
// Filter -> Search -> NearLocation -> Sort -> Paginate. FilterDoc after the
// first three stages is the document to count against; FindOptions after
// the last two adds order and paging.
type IssueQuery struct {
	params url.Values
	filter bson.M
	sort   bson.D
	err    error

	// Page and Limit are the resolved pagination values, exposed for
	// response metadata
	Page  int64
	Limit int64
}

// NewIssueQuery wraps the raw query parameters for staged composition
func NewIssueQuery(params url.Values) *IssueQuery {
	return &IssueQuery{
		params: params,
		filter: bson.M{},
		sort:   bson.D{{Key: "createdAt", Value: -1}},
		Page:   DefaultPage,
		Limit:  DefaultLimit,
	}
}

// Filter applies equality and comparison predicates from the non-reserved
// parameters. Empty values are dropped; a comma-separated state value
// becomes a set-membership condition (a single state behaves as a
// one-element set).
func (q *IssueQuery) Filter() *IssueQuery {
	for key, values := range q.params {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		value := values[0]

		field, op, ok := splitComparisonKey(key)
		if ok {
			if reservedKeys[field] {
				continue
			}
			mongoOp, known := comparisonOps[op]
			if !known {
				q.err = fmt.Errorf("unsupported filter operator %q for field %q", op, field)
				continue
			}
			pred, exists := q.filter[field].(bson.M)
			if !exists {
				pred = bson.M{}
				q.filter[field] = pred
			}
			pred[mongoOp] = comparableValue(value)
			continue
		}

		if reservedKeys[key] {
			continue
		}

		if key == "state" && strings.Contains(value, ",") {
			states := splitNonEmpty(value)
			q.filter[key] = bson.M{"$in": states}
			continue
		}

		q.filter[key] = value
	}
	return q
}

// Search adds a case-insensitive substring match across title and
// description when a search term is present
func (q *IssueQuery) Search() *IssueQuery {
	term := q.params.Get("search")
	if term == "" {
		return q
	}
	q.filter["$or"] = []bson.M{
		{"title": bson.M{"$regex": term, "$options": "i"}},
		{"description": bson.M{"$regex": term, "$options": "i"}},
	}
	return q
}

// NearLocation adds a spherical radius containment filter when both lat
// and lng parse. The radius defaults to 10km; unparseable numerics fall
// back leniently rather than erroring.
func (q *IssueQuery) NearLocation() *IssueQuery {
	latStr := q.params.Get("lat")
	lngStr := q.params.Get("lng")
	if latStr == "" || lngStr == "" {
		return q
	}

	lat, latErr := strconv.ParseFloat(latStr, 64)
	lng, lngErr := strconv.ParseFloat(lngStr, 64)
	if latErr != nil || lngErr != nil {
		zap.S().Warnw("skipping geo filter, coordinates not numeric",
			"lat", latStr,
			"lng", lngStr,
		)
		return q
	}

	radius := float64(DefaultRadiusKm)
	if radiusStr := q.params.Get("radius"); radiusStr != "" {
		if r, err := strconv.ParseFloat(radiusStr, 64); err == nil && r > 0 {
			radius = r
		} else {
			zap.S().Warnf("radius %q not usable, using default of %vkm", radiusStr, DefaultRadiusKm)
		}
	}

	q.filter["location"] = bson.M{
		"$geoWithin": bson.M{
			"$centerSphere": bson.A{bson.A{lng, lat}, radius / EarthRadiusKm},
		},
	}
	return q
}

// Sort translates a comma-separated sort key list (optionally prefixed
// with - for descending) into the query sort order; default newest-first
func (q *IssueQuery) Sort() *IssueQuery {
	raw := q.params.Get("sort")
	if raw == "" {
		return q
	}
	sort := bson.D{}
	for _, key := range splitNonEmpty(raw) {
		if strings.HasPrefix(key, "-") {
			sort = append(sort, bson.E{Key: strings.TrimPrefix(key, "-"), Value: -1})
		} else {
			sort = append(sort, bson.E{Key: key, Value: 1})
		}
	}
	if len(sort) > 0 {
		q.sort = sort
	}
	return q
}

// Paginate resolves 1-based page and limit, falling back to defaults on
// missing or malformed numbers
func (q *IssueQuery) Paginate() *IssueQuery {
	q.Page = parsePositiveInt(q.params.Get("page"), DefaultPage)
	q.Limit = parsePositiveInt(q.params.Get("limit"), DefaultLimit)
	if q.Limit > MaxLimit {
		zap.S().Warnf("limit %v above cap, using %v", q.Limit, MaxLimit)
		q.Limit = MaxLimit
	}
	return q
}

// Err reports a malformed filter (unknown comparison operator); handlers
// surface it as a 400
func (q *IssueQuery) Err() error {
	return q.err
}

// FilterDoc returns the composed filter document. The same document is
// used for the paginated find and for the independent total count.
func (q *IssueQuery) FilterDoc() bson.M {
	return q.filter
}

// Skip returns the number of documents skipped by the resolved page
func (q *IssueQuery) Skip() int64 {
	return (q.Page - 1) * q.Limit
}

// FindOptions returns the sort/skip/limit options for the paginated find
func (q *IssueQuery) FindOptions() *options.FindOptions {
	return options.Find().
		SetSort(q.sort).
		SetSkip(q.Skip()).
		SetLimit(q.Limit)
}

// splitComparisonKey parses the bracket form "field[op]" into its parts;
// ok is false for plain keys
func splitComparisonKey(key string) (field, op string, ok bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return "", "", false
	}
	return key[:open], key[open+1 : len(key)-1], true
}

// comparableValue keeps numeric-looking comparison operands numeric so
// range predicates compare as numbers, not strings
func comparableValue(value string) interface{} {
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	return value
}

func splitNonEmpty(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePositiveInt(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		zap.S().Warnf("cannot use %q, using default of %v", raw, fallback)
		return fallback
	}
	return n
}
