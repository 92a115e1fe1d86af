package store

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
)

// scrollPageSize bounds a single scroll round-trip when fetching all
// matches.
const scrollPageSize = 1024

// QdrantStore implements Store against a Qdrant backend over gRPC.
type QdrantStore struct {
	client  *qdrant.Client
	timeout time.Duration
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to the Qdrant gRPC endpoint described by the
// URL, e.g. "http://localhost:6334" or "https://host:6334".
func NewQdrantStore(rawURL, apiKey string, timeout time.Duration) (*QdrantStore, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, "invalid backend URL", err)
	}

	host := parsed.Hostname()
	if host == "" {
		host = rawURL
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrap(errors.KindInvalidInput, "invalid backend port", err)
		}
	}

	cfg := &qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackendUnavailable, "failed to create backend client", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{client: client, timeout: timeout}, nil
}

// Close closes the backend connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureCollection creates the collection with a cosine-distance dense
// vector space if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dims int) error {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	exists, err := s.client.CollectionExists(cctx, collection)
	if err != nil {
		return mapBackendErr(err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(cctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return mapBackendErr(err)
	}
	return nil
}

// EnsureFieldIndexes creates the keyword/bool/integer payload indexes
// the filter grammar admits. Creating an existing index is a no-op for
// the backend.
func (s *QdrantStore) EnsureFieldIndexes(ctx context.Context, collection string) error {
	for field, kind := range indexedFields {
		fieldType := qdrant.FieldType_FieldTypeKeyword
		switch kind {
		case kindBool:
			fieldType = qdrant.FieldType_FieldTypeBool
		case kindInteger:
			fieldType = qdrant.FieldType_FieldTypeInteger
		}

		cctx, cancel := s.callCtx(ctx)
		_, err := s.client.CreateFieldIndex(cctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      &fieldType,
		})
		cancel()
		if err != nil {
			return mapBackendErr(err)
		}
	}
	return nil
}

// Upsert writes records with deterministic point ids.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.PointID()),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(map[string]any{
				ContentKey: rec.Content,
				PayloadKey: rec.Env.Payload(),
			}),
		})
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	_, err := s.client.Upsert(cctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return mapBackendErr(err)
	}
	return nil
}

// Scroll returns matching records in point-id order. A non-positive
// limit fetches all matches page by page.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, f *Filter, limit int, withVectors bool) ([]StoredRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	qf, err := toQdrantFilter(f)
	if err != nil {
		return nil, err
	}

	fetchAll := limit <= 0
	pageSize := limit
	if fetchAll || pageSize > scrollPageSize {
		pageSize = scrollPageSize
	}

	var out []StoredRecord
	var offset *qdrant.PointId

	for {
		cctx, cancel := s.callCtx(ctx)
		points, err := s.client.Scroll(cctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         qf,
			Limit:          qdrant.PtrOf(uint32(pageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(withVectors),
		})
		cancel()
		if err != nil {
			return nil, mapBackendErr(err)
		}

		for _, p := range points {
			// The offset point is inclusive; skip it on follow-up pages.
			if offset != nil && p.Id.GetUuid() == offset.GetUuid() {
				continue
			}
			rec, err := retrievedToStored(p)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			if !fetchAll && len(out) >= limit {
				return out, nil
			}
		}

		if len(points) < pageSize || !fetchAll {
			return out, nil
		}
		offset = points[len(points)-1].Id
	}
}

// Query performs vector search restricted by the filter.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, f *Filter, topK int) ([]ScoredRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	qf, err := toQdrantFilter(f)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	hits, err := s.client.Query(cctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, mapBackendErr(err)
	}

	out := make([]ScoredRecord, 0, len(hits))
	for _, hit := range hits {
		rec, err := scoredToStored(hit)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredRecord{StoredRecord: rec, Score: hit.Score})
	}
	return out, nil
}

// SetPayloadByFilter merges the patch into the nested "meta" object of
// every record matching the filter. This is the only way the core
// mutates stored state: the backend rejects foreign id shapes, so
// records are addressed by predicate, never by point id.
func (s *QdrantStore) SetPayloadByFilter(ctx context.Context, collection string, f *Filter, patch map[string]any) error {
	if err := f.Validate(); err != nil {
		return err
	}
	qf, err := toQdrantFilter(f)
	if err != nil {
		return err
	}
	if qf == nil {
		// The points selector requires a filter; an empty one matches all.
		qf = &qdrant.Filter{}
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	_, err = s.client.SetPayload(cctx, &qdrant.SetPayloadPoints{
		CollectionName: collection,
		Payload:        qdrant.NewValueMap(patch),
		Key:            qdrant.PtrOf(PayloadKey),
		PointsSelector: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return mapBackendErr(err)
	}
	return nil
}

// DeleteByFilter removes every record matching the filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, f *Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	qf, err := toQdrantFilter(f)
	if err != nil {
		return err
	}
	if qf == nil {
		qf = &qdrant.Filter{}
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	_, err = s.client.Delete(cctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return mapBackendErr(err)
	}
	return nil
}

// Count returns the exact number of records matching the filter.
func (s *QdrantStore) Count(ctx context.Context, collection string, f *Filter) (uint64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	qf, err := toQdrantFilter(f)
	if err != nil {
		return 0, err
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()

	n, err := s.client.Count(cctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         qf,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, mapBackendErr(err)
	}
	return n, nil
}

// toQdrantFilter translates the predicate tree to the backend filter.
func toQdrantFilter(f *Filter) (*qdrant.Filter, error) {
	if f == nil {
		return nil, nil
	}
	if f.IsLeaf() {
		cond, err := leafCondition(f)
		if err != nil {
			return nil, err
		}
		return &qdrant.Filter{Must: []*qdrant.Condition{cond}}, nil
	}

	conds := make([]*qdrant.Condition, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		cond, err := toCondition(c)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}

	switch f.Op {
	case CombAnd:
		return &qdrant.Filter{Must: conds}, nil
	case CombOr:
		return &qdrant.Filter{Should: conds}, nil
	case CombNot:
		return &qdrant.Filter{MustNot: conds}, nil
	}
	return nil, errors.InvalidInputf("unknown filter combinator %q", f.Op)
}

// toCondition renders a subtree as a single backend condition.
func toCondition(f *Filter) (*qdrant.Condition, error) {
	if f.IsLeaf() {
		return leafCondition(f)
	}
	nested, err := toQdrantFilter(f)
	if err != nil {
		return nil, err
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Filter{Filter: nested},
	}, nil
}

func leafCondition(f *Filter) (*qdrant.Condition, error) {
	switch f.Operator {
	case OpEq:
		return matchCondition(f.Field, f.Value)
	case OpNeq:
		cond, err := matchCondition(f.Field, f.Value)
		if err != nil {
			return nil, err
		}
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{MustNot: []*qdrant.Condition{cond}},
			},
		}, nil
	case OpGt, OpLt, OpGte, OpLte:
		val, _ := toFloat(f.Value)
		r := &qdrant.Range{}
		switch f.Operator {
		case OpGt:
			r.Gt = qdrant.PtrOf(val)
		case OpLt:
			r.Lt = qdrant.PtrOf(val)
		case OpGte:
			r.Gte = qdrant.PtrOf(val)
		case OpLte:
			r.Lte = qdrant.PtrOf(val)
		}
		return qdrant.NewRange(f.Field, r), nil
	case OpIn:
		keywords, err := keywordList(f)
		if err != nil {
			return nil, err
		}
		return qdrant.NewMatchKeywords(f.Field, keywords...), nil
	case OpNotIn:
		keywords, err := keywordList(f)
		if err != nil {
			return nil, err
		}
		return qdrant.NewMatchExceptKeywords(f.Field, keywords...), nil
	}
	return nil, errors.InvalidInputf("unknown filter operator %q", f.Operator)
}

func matchCondition(field string, value any) (*qdrant.Condition, error) {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatch(field, v), nil
	case bool:
		return qdrant.NewMatchBool(field, v), nil
	case int:
		return qdrant.NewMatchInt(field, int64(v)), nil
	case int64:
		return qdrant.NewMatchInt(field, v), nil
	case float64:
		return qdrant.NewMatchInt(field, int64(v)), nil
	}
	return nil, errors.InvalidInputf("unsupported filter value type %T for %s", value, field)
}

func keywordList(f *Filter) ([]string, error) {
	values, _ := f.Value.([]any)
	keywords := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, errors.InvalidInputf("operator %q requires string values on %s", f.Operator, f.Field)
		}
		keywords = append(keywords, s)
	}
	return keywords, nil
}

// retrievedToStored converts a scrolled point.
func retrievedToStored(p *qdrant.RetrievedPoint) (StoredRecord, error) {
	return payloadToStored(p.Id.GetUuid(), p.Payload, denseVector(p.Vectors))
}

// scoredToStored converts a query hit.
func scoredToStored(p *qdrant.ScoredPoint) (StoredRecord, error) {
	return payloadToStored(p.Id.GetUuid(), p.Payload, denseVector(p.Vectors))
}

func payloadToStored(pointRef string, payload map[string]*qdrant.Value, vector []float32) (StoredRecord, error) {
	rec := StoredRecord{PointRef: pointRef, Vector: vector}

	if v, ok := payload[ContentKey]; ok {
		rec.Content = v.GetStringValue()
	}

	metaAny := valueToAny(payload[PayloadKey])
	meta, ok := metaAny.(map[string]any)
	if !ok {
		return StoredRecord{}, errors.Internal(
			errors.Newf(errors.KindInternal, "point %s has no meta payload", pointRef))
	}

	env, err := envelope.FromPayload(meta)
	if err != nil {
		return StoredRecord{}, err
	}
	rec.Env = env
	return rec, nil
}

func denseVector(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if vec := v.GetVector(); vec != nil {
		return vec.GetData()
	}
	return nil
}

// valueToAny converts a backend payload value to plain Go data.
func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for key, val := range k.StructValue.GetFields() {
			out[key] = valueToAny(val)
		}
		return out
	case *qdrant.Value_ListValue:
		values := k.ListValue.GetValues()
		out := make([]any, 0, len(values))
		for _, item := range values {
			out = append(out, valueToAny(item))
		}
		return out
	}
	return nil
}

// mapBackendErr classifies a backend error into the taxonomy.
// Transport and server-side failures are retryable; not-found and
// invalid-argument map to NotFound and InvalidInput; everything else
// surfaces as internal.
func mapBackendErr(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if strings.Contains(err.Error(), "connection") {
			return errors.BackendUnavailable(err)
		}
		return errors.Internal(err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.Unknown, codes.Canceled:
		return errors.BackendUnavailable(err)
	case codes.NotFound:
		return errors.NotFound("backend target")
	case codes.InvalidArgument:
		return errors.Wrap(errors.KindInvalidInput, "backend rejected request", err)
	default:
		return errors.Internal(err)
	}
}
