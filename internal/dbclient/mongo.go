package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoConnector implements Connector for MongoDB.
type mongoConnector struct {
	client *mongo.Client
	dbName string

	mu      sync.Mutex
	cursor  *mongo.Cursor
	fetched int
}

// mongoQuery is the JSON structure used as a MongoDB "query".
type mongoQuery struct {
	Collection string         `json:"collection"`
	Operation  string         `json:"operation,omitempty"` // find (default) | aggregate
	Filter     map[string]any `json:"filter,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
	Sort       map[string]any `json:"sort,omitempty"`
	Limit      int64          `json:"limit,omitempty"`
	Pipeline   []any          `json:"pipeline,omitempty"` // for aggregate
}

func newMongoConnector(uri string) (*mongoConnector, error) {
	dbName := mongoDatabaseName(uri)

	log.Printf("mongo: connecting to %s (database %s)", RedactURL(uri), dbName)
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, dbName: dbName}, nil
}

// mongoDatabaseName takes the database from the URI path, defaulting to "test".
func mongoDatabaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "test"
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return "test"
}

// RedactURL masks the password of a connection URL for logging.
func RedactURL(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// unmarshalEJSON re-encodes a map field and decodes it as Extended JSON so
// $oid, $date, $numberLong and friends become real BSON values.
func unmarshalEJSON(field map[string]any) (bson.D, error) {
	if field == nil {
		return nil, nil
	}
	raw, err := json.Marshal(field)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("extended json: %w", err)
	}
	return doc, nil
}

func (m *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoConnector) Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCursorLocked(ctx)

	if fetchSize <= 0 {
		fetchSize = 50
	}

	var mq mongoQuery
	if err := json.Unmarshal([]byte(query), &mq); err != nil {
		return nil, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return nil, fmt.Errorf("query must specify 'collection'")
	}

	coll := m.client.Database(m.dbName).Collection(mq.Collection)

	switch mq.Operation {
	case "", "find":
		return m.execFind(ctx, coll, mq, fetchSize)
	case "aggregate":
		return m.execAggregate(ctx, coll, mq, fetchSize)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", mq.Operation)
	}
}

func (m *mongoConnector) execFind(ctx context.Context, coll *mongo.Collection, mq mongoQuery, fetchSize int) (*QueryPage, error) {
	filter, err := unmarshalEJSON(mq.Filter)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if filter == nil {
		filter = bson.D{}
	}

	opts := options.Find().SetBatchSize(int32(fetchSize))
	if mq.Projection != nil {
		proj, err := unmarshalEJSON(mq.Projection)
		if err != nil {
			return nil, fmt.Errorf("projection: %w", err)
		}
		opts.SetProjection(proj)
	}
	if mq.Sort != nil {
		sortDoc, err := unmarshalEJSON(mq.Sort)
		if err != nil {
			return nil, fmt.Errorf("sort: %w", err)
		}
		opts.SetSort(sortDoc)
	}
	if mq.Limit > 0 {
		opts.SetLimit(mq.Limit)
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}

	m.cursor = cursor
	m.fetched = 0
	return m.fetchMongoBatchLocked(ctx, fetchSize)
}

func (m *mongoConnector) execAggregate(ctx context.Context, coll *mongo.Collection, mq mongoQuery, fetchSize int) (*QueryPage, error) {
	pipeline := mongo.Pipeline{}
	for i, stage := range mq.Pipeline {
		st, ok := stage.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("pipeline stage %d: expected object", i)
		}
		doc, err := unmarshalEJSON(st)
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %d: %w", i, err)
		}
		pipeline = append(pipeline, doc)
	}

	cursor, err := coll.Aggregate(ctx, pipeline, options.Aggregate().SetBatchSize(int32(fetchSize)))
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	m.cursor = cursor
	m.fetched = 0
	return m.fetchMongoBatchLocked(ctx, fetchSize)
}

func (m *mongoConnector) FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor == nil {
		return nil, fmt.Errorf("no active cursor, execute a query first")
	}
	if fetchSize <= 0 {
		fetchSize = 50
	}
	return m.fetchMongoBatchLocked(ctx, fetchSize)
}

func (m *mongoConnector) fetchMongoBatchLocked(ctx context.Context, fetchSize int) (*QueryPage, error) {
	docs := make([]bson.D, 0, fetchSize)
	for len(docs) < fetchSize && m.cursor.Next(ctx) {
		var doc bson.D
		if err := m.cursor.Decode(&doc); err != nil {
			m.closeCursorLocked(ctx)
			return nil, fmt.Errorf("decode: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := m.cursor.Err(); err != nil {
		m.closeCursorLocked(ctx)
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	m.fetched += len(docs)

	// Columns across the batch: _id first, then alphabetical.
	colSet := map[string]bool{}
	var columns []string
	for _, doc := range docs {
		for _, elem := range doc {
			if !colSet[elem.Key] {
				colSet[elem.Key] = true
				columns = append(columns, elem.Key)
			}
		}
	}
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i] == "_id" {
			return true
		}
		if columns[j] == "_id" {
			return false
		}
		return columns[i] < columns[j]
	})

	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		docMap := make(map[string]any, len(doc))
		for _, elem := range doc {
			docMap[elem.Key] = elem.Value
		}
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = bsonValue(docMap[col])
		}
		rows = append(rows, row)
	}

	hasMore := len(docs) == fetchSize
	if !hasMore {
		m.closeCursorLocked(ctx)
	}

	return &QueryPage{
		Columns:      columns,
		Rows:         rows,
		TotalFetched: m.fetched,
		HasMore:      hasMore,
	}, nil
}

// bsonValue converts a decoded BSON value into a plain row value.
// Nested documents and arrays become relaxed Extended JSON strings.
func bsonValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case int32:
		return int64(val)
	case bson.Decimal128:
		return val.String()
	case bson.D, bson.A:
		out, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: val}}, false, false)
		if err != nil {
			return fmt.Sprint(val)
		}
		var wrapped struct {
			V json.RawMessage `json:"v"`
		}
		if err := json.Unmarshal(out, &wrapped); err != nil {
			return string(out)
		}
		return string(wrapped.V)
	default:
		return val
	}
}

func (m *mongoConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db := m.client.Database(m.dbName)

	collections, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(collections)

	schema := &SchemaInfo{}
	for _, collName := range collections {
		// Sample one document to extract field names.
		var doc bson.D
		err := db.Collection(collName).FindOne(ctx, bson.M{}).Decode(&doc)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: collName})
			continue
		}
		cols := make([]ColumnInfo, 0, len(doc))
		for _, elem := range doc {
			cols = append(cols, ColumnInfo{Name: elem.Key, Type: fmt.Sprintf("%T", elem.Value)})
		}
		schema.Tables = append(schema.Tables, TableInfo{Name: collName, Columns: cols})
	}

	return schema, nil
}

func (m *mongoConnector) Close() error {
	m.mu.Lock()
	m.closeCursorLocked(context.Background())
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *mongoConnector) closeCursorLocked(ctx context.Context) {
	if m.cursor != nil {
		m.cursor.Close(ctx)
		m.cursor = nil
	}
}
