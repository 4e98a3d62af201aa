// Package mongo provides the MongoDB-backed article store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/JakeFAU/news-refresher/internal/article"
)

const (
	defaultDatabase   = "news"
	defaultCollection = "posts"
	textIndexName     = "article_text"
)

// Config selects the cluster and collection holding article documents.
type Config struct {
	URI        string
	Database   string
	Collection string
	Migrate    bool
}

type sourceDoc struct {
	ID   *string `bson:"id"`
	Name string  `bson:"name"`
}

type document struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Content     string             `bson:"content"`
	URL         string             `bson:"url"`
	URLToImage  *string            `bson:"urlToImage"`
	PublishedAt time.Time          `bson:"publishedAt"`
	Author      string             `bson:"author"`
	Source      sourceDoc          `bson:"source"`
}

// ArticleStore implements article.Store on a MongoDB collection.
type ArticleStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewArticleStore connects to the cluster and, when cfg.Migrate is set,
// ensures the url and text indexes exist.
func NewArticleStore(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("storage.mongo.uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	store := &ArticleStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if cfg.Migrate {
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
	}
	return store, nil
}

// NewArticleStoreWithCollection wraps an existing collection (primarily for testing).
// Close does not disconnect the owning client.
func NewArticleStoreWithCollection(coll *mongo.Collection) *ArticleStore {
	return &ArticleStore{coll: coll}
}

// EnsureIndexes creates the unique url index, the weighted text index, and a
// publishedAt index.
func (s *ArticleStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, indexModels())
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "description", Value: "text"},
				{Key: "content", Value: "text"},
			},
			Options: options.Index().
				SetName(textIndexName).
				SetWeights(bson.D{
					{Key: "title", Value: 5},
					{Key: "description", Value: 3},
					{Key: "content", Value: 1},
				}),
		},
		{
			Keys: bson.D{{Key: "publishedAt", Value: -1}},
		},
	}
}

// Ping checks connectivity against the primary.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// DeleteAll removes every document in the collection.
func (s *ArticleStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("delete articles: %w", err)
	}
	return res.DeletedCount, nil
}

// Insert writes one record and assigns its ID.
func (s *ArticleStore) Insert(ctx context.Context, record *article.Record) error {
	doc := toDocument(record)
	doc.ID = primitive.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert article: %w", article.ErrDuplicateURL)
		}
		return fmt.Errorf("insert article: %w", err)
	}
	record.ID = doc.ID.Hex()
	return nil
}

// Count returns the number of documents matching filter.
func (s *ArticleStore) Count(ctx context.Context, filter article.Filter) (int64, error) {
	query, err := buildFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// Find returns matching documents ordered and windowed per opts.
func (s *ArticleStore) Find(ctx context.Context, filter article.Filter, opts article.FindOptions) ([]article.Record, error) {
	query, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}
	cursor, err := s.coll.Find(ctx, query, findOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("find articles: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	out := make([]article.Record, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.record())
	}
	return out, nil
}

// Close disconnects the client owned by the store.
func (s *ArticleStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

func buildFilter(filter article.Filter) (bson.D, error) {
	query := bson.D{}
	if filter.ID != "" {
		oid, err := primitive.ObjectIDFromHex(filter.ID)
		if err != nil {
			return nil, article.ErrInvalidID
		}
		query = append(query, bson.E{Key: "_id", Value: oid})
	}
	if filter.ExcludeID != "" {
		oid, err := primitive.ObjectIDFromHex(filter.ExcludeID)
		if err != nil {
			return nil, article.ErrInvalidID
		}
		query = append(query, bson.E{Key: "_id", Value: bson.D{{Key: "$ne", Value: oid}}})
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		query = append(query, bson.E{Key: "$text", Value: bson.D{{Key: "$search", Value: q}}})
	}
	return query, nil
}

func findOptions(opts article.FindOptions) *options.FindOptions {
	fo := options.Find()
	switch opts.Sort {
	case article.SortPublishedAsc:
		fo.SetSort(bson.D{{Key: "publishedAt", Value: 1}})
	case article.SortPublishedDesc:
		fo.SetSort(bson.D{{Key: "publishedAt", Value: -1}})
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	return fo
}

func toDocument(r *article.Record) document {
	return document{
		Title:       r.Title,
		Description: r.Description,
		Content:     r.Content,
		URL:         r.URL,
		URLToImage:  r.URLToImage,
		PublishedAt: r.PublishedAt.UTC(),
		Author:      r.Author,
		Source:      sourceDoc{ID: r.Source.ID, Name: r.Source.Name},
	}
}

func (d document) record() article.Record {
	return article.Record{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Content:     d.Content,
		URL:         d.URL,
		URLToImage:  d.URLToImage,
		PublishedAt: d.PublishedAt.UTC(),
		Author:      d.Author,
		Source:      article.Source{ID: d.Source.ID, Name: d.Source.Name},
	}
}
