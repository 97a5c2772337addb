// Package mongostore implements eventstore.Store on top of MongoDB,
// following the narrow collection-wrapper pattern used by the gateway's
// other Mongo-backed clients: the real driver types are wrapped behind small
// interfaces so the store can be exercised in tests without a live server.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/tensorzero/tensorzero-sub009/eventstore"
)

type (
	// Options configures Store.
	Options struct {
		Client                    *mongodriver.Client
		Database                  string
		ModelInferenceCollection  string
		InferenceCollection       string
		Timeout                   time.Duration
	}

	// Store is a MongoDB-backed eventstore.Store. It also satisfies
	// health.Pinger so it can be wired into a readiness check.
	Store struct {
		mongo           *mongodriver.Client
		modelInferences collection
		inferences      collection
		timeout         time.Duration
	}

	modelInferenceDocument struct {
		ID           bson.ObjectID `bson:"_id,omitempty"`
		InferenceID  string        `bson:"inference_id"`
		ModelName    string        `bson:"model_name"`
		ProviderName string        `bson:"provider_name"`
		RawRequest   string        `bson:"raw_request"`
		RawResponse  string        `bson:"raw_response"`
		InputTokens  int           `bson:"input_tokens"`
		OutputTokens int           `bson:"output_tokens"`
		Reported     bool          `bson:"usage_reported"`
		LatencyMS    int64         `bson:"latency_ms"`
		CreatedAt    time.Time     `bson:"created_at"`
	}

	inferenceDocument struct {
		ID               bson.ObjectID     `bson:"_id,omitempty"`
		InferenceID      string            `bson:"inference_id"`
		EpisodeID        string            `bson:"episode_id"`
		FunctionName     string            `bson:"function_name"`
		VariantName      string            `bson:"variant_name"`
		FunctionType     string            `bson:"function_type"`
		Input            string            `bson:"input"`
		Output           string            `bson:"output"`
		ToolParams       string            `bson:"tool_params,omitempty"`
		InferenceParams  string            `bson:"inference_params,omitempty"`
		ProcessingTimeMS int64             `bson:"processing_time_ms"`
		TTFTMS           *int64            `bson:"ttft_ms,omitempty"`
		Tags             map[string]string `bson:"tags,omitempty"`
		InputTokens      int               `bson:"input_tokens"`
		OutputTokens     int               `bson:"output_tokens"`
		Reported         bool              `bson:"usage_reported"`
		Dryrun           bool              `bson:"dryrun"`
		CreatedAt        time.Time         `bson:"created_at"`
	}
)

const (
	defaultModelInferenceCollection = "model_inferences"
	defaultInferenceCollection      = "inferences"
	defaultTimeout                  = 5 * time.Second
	clientName                      = "gateway-eventstore-mongo"
)

// New connects the gateway's event persistence to a MongoDB client, creating
// lookup indexes on inference_id for both collections.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	modelColl := opts.ModelInferenceCollection
	if modelColl == "" {
		modelColl = defaultModelInferenceCollection
	}
	infColl := opts.InferenceCollection
	if infColl == "" {
		infColl = defaultInferenceCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	modelWrapper := mongoCollection{coll: db.Collection(modelColl)}
	infWrapper := mongoCollection{coll: db.Collection(infColl)}

	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureInferenceIDIndex(idxCtx, modelWrapper); err != nil {
		return nil, err
	}
	if err := ensureInferenceIDIndex(idxCtx, infWrapper); err != nil {
		return nil, err
	}

	return &Store{
		mongo:           opts.Client,
		modelInferences: modelWrapper,
		inferences:      infWrapper,
		timeout:         timeout,
	}, nil
}

var _ eventstore.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

func (s *Store) Name() string { return clientName }

func (s *Store) Ping(ctx context.Context) error {
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *Store) WriteModelInference(ctx context.Context, row *eventstore.ModelInferenceRow) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := modelInferenceDocument{
		InferenceID:  row.InferenceID,
		ModelName:    row.ModelName,
		ProviderName: row.ProviderName,
		RawRequest:   row.RawRequest,
		RawResponse:  row.RawResponse,
		InputTokens:  row.Usage.InputTokens,
		OutputTokens: row.Usage.OutputTokens,
		Reported:     row.Usage.Reported,
		LatencyMS:    row.LatencyMS,
		CreatedAt:    row.CreatedAt.UTC(),
	}
	_, err := s.modelInferences.InsertOne(ctx, doc)
	return err
}

func (s *Store) WriteInference(ctx context.Context, row *eventstore.InferenceRow) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := inferenceDocument{
		InferenceID:      row.InferenceID,
		EpisodeID:        row.EpisodeID,
		FunctionName:     row.FunctionName,
		VariantName:      row.VariantName,
		FunctionType:     string(row.FunctionType),
		Input:            row.Input,
		Output:           row.Output,
		ToolParams:       row.ToolParams,
		InferenceParams:  row.InferenceParams,
		ProcessingTimeMS: row.ProcessingTimeMS,
		TTFTMS:           row.TTFTMS,
		Tags:             row.Tags,
		InputTokens:      row.Usage.InputTokens,
		OutputTokens:     row.Usage.OutputTokens,
		Reported:         row.Usage.Reported,
		Dryrun:           row.Dryrun,
		CreatedAt:        row.CreatedAt.UTC(),
	}
	_, err := s.inferences.InsertOne(ctx, doc)
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func ensureInferenceIDIndex(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "inference_id", Value: 1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
