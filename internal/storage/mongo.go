package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collectionProducts   = "products"
	collectionCategories = "categories"
)

// MongoStore 基于MongoDB的存储
type MongoStore struct {
	client     *mongo.Client
	db         *mongo.Database
	products   *mongo.Collection
	categories *mongo.Collection
}

// NewMongoStore 连接MongoDB并验证连通性
func NewMongoStore(ctx context.Context, cfg Config) (*MongoStore, error) {
	if cfg.MongoURI == "" {
		return nil, errors.New("未配置MongoDB连接地址 (MONGODB_URI)")
	}
	if cfg.Database == "" {
		cfg.Database = "pricehawk"
	}

	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetConnectTimeout(cfg.Timeout).
		SetServerSelectionTimeout(cfg.Timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("连接MongoDB失败: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("MongoDB不可用: %w", err)
	}

	db := client.Database(cfg.Database)
	utils.Infof("已连接MongoDB: %s", cfg.Database)
	return &MongoStore{
		client:     client,
		db:         db,
		products:   db.Collection(collectionProducts),
		categories: db.Collection(collectionCategories),
	}, nil
}

func scope(category, source string) bson.M {
	return bson.M{"category": category, "source": source}
}

func (s *MongoStore) CountActive(ctx context.Context, category, source string) (int, error) {
	filter := scope(category, source)
	filter["isActive"] = true
	n, err := s.products.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("统计活跃商品失败: %w", err)
	}
	return int(n), nil
}

func (s *MongoStore) FindByLink(ctx context.Context, category, source, link string) (*models.Product, error) {
	filter := scope(category, source)
	filter["link"] = link

	var p models.Product
	err := s.products.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("按链接查找商品失败: %w", err)
	}
	return &p, nil
}

func (s *MongoStore) FindByName(ctx context.Context, category, source, name string) ([]models.Product, error) {
	filter := scope(category, source)
	filter["name"] = name
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

func (s *MongoStore) InsertProduct(ctx context.Context, p models.Product) error {
	if _, err := s.products.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("插入商品失败 [%s]: %w", p.Name, err)
	}
	return nil
}

func (s *MongoStore) UpdateProduct(ctx context.Context, p models.Product) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.products.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, opts); err != nil {
		return fmt.Errorf("更新商品失败 [%s]: %w", p.Name, err)
	}
	return nil
}

func (s *MongoStore) DeactivateMissing(ctx context.Context, category, source string, keep []string, now time.Time) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	filter := scope(category, source)
	filter["isActive"] = true
	filter["name"] = bson.M{"$nin": keep}

	res, err := s.products.UpdateMany(ctx, filter, bson.M{
		"$set": bson.M{"isActive": false, "updatedAt": now},
	})
	if err != nil {
		return 0, fmt.Errorf("停用商品失败: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoStore) UpsertCategory(ctx context.Context, c models.Category) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.categories.ReplaceOne(ctx, bson.M{"key": c.Key}, c, opts); err != nil {
		return fmt.Errorf("更新分类失败 [%s]: %w", c.Key, err)
	}
	return nil
}

func (s *MongoStore) TouchCategory(ctx context.Context, c models.Category) error {
	update := bson.M{
		"$set": bson.M{
			"url":           c.URL,
			"displayName":   c.DisplayName,
			"lastScrapedAt": c.LastScrapedAt,
		},
		"$setOnInsert": bson.M{
			"name":          c.Name,
			"source":        c.Source,
			"isActive":      true,
			"totalProducts": 0,
		},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := s.categories.UpdateOne(ctx, bson.M{"key": c.Key}, update, opts); err != nil {
		return fmt.Errorf("刷新分类失败 [%s]: %w", c.Key, err)
	}
	return nil
}

func (s *MongoStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	cursor, err := s.categories.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("查询分类失败: %w", err)
	}
	categories := make([]models.Category, 0)
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, fmt.Errorf("读取分类失败: %w", err)
	}
	return categories, nil
}

func (s *MongoStore) ListProducts(ctx context.Context, q ProductQuery) ([]models.Product, error) {
	filter := bson.M{}
	if q.Category != "" {
		filter["category"] = q.Category
	}
	if q.Source != "" {
		filter["source"] = q.Source
	}
	if q.ActiveOnly {
		filter["isActive"] = true
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "scrapedAt", Value: -1}}).
		SetSkip(int64(q.Offset)).
		SetLimit(int64(normalizeLimit(q.Limit)))
	return s.find(ctx, filter, opts)
}

func (s *MongoStore) SearchProducts(ctx context.Context, text string, limit int) ([]models.Product, error) {
	filter := bson.M{
		"isActive": true,
		"name":     primitive.Regex{Pattern: regexp.QuoteMeta(text), Options: "i"},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "currentPrice", Value: 1}}).
		SetLimit(int64(normalizeLimit(limit)))
	return s.find(ctx, filter, opts)
}

func (s *MongoStore) InactiveSince(ctx context.Context, cutoff time.Time) ([]models.Product, error) {
	filter := bson.M{
		"isActive":  false,
		"updatedAt": bson.M{"$lt": cutoff},
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}}))
}

func (s *MongoStore) Stats(ctx context.Context, since time.Time) (models.StoreStats, error) {
	var stats models.StoreStats

	total, err := s.products.CountDocuments(ctx, bson.M{"isActive": true})
	if err != nil {
		return stats, fmt.Errorf("统计商品失败: %w", err)
	}
	stats.TotalProducts = int(total)

	categories, err := s.categories.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, fmt.Errorf("统计分类失败: %w", err)
	}
	stats.TotalCategories = int(categories)

	recent, err := s.products.CountDocuments(ctx, bson.M{"scrapedAt": bson.M{"$gte": since}})
	if err != nil {
		return stats, fmt.Errorf("统计近期抓取失败: %w", err)
	}
	stats.RecentScrapes = int(recent)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"isActive": true}}},
		{{Key: "$group", Value: bson.M{
			"_id":      "$source",
			"count":    bson.M{"$sum": 1},
			"avgPrice": bson.M{"$avg": "$currentPrice"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
	}
	cursor, err := s.products.Aggregate(ctx, pipeline)
	if err != nil {
		return stats, fmt.Errorf("聚合统计失败: %w", err)
	}
	stats.Sources = make([]models.SourceStats, 0)
	if err := cursor.All(ctx, &stats.Sources); err != nil {
		return stats, fmt.Errorf("读取聚合结果失败: %w", err)
	}
	return stats, nil
}

// EnsureIndexes 创建查询所需索引,重复创建是幂等的
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	productIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}, {Key: "category", Value: 1}, {Key: "source", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "source", Value: 1}}},
		{Keys: bson.D{{Key: "currentPrice", Value: 1}}},
		{Keys: bson.D{{Key: "scrapedAt", Value: -1}}},
		{Keys: bson.D{{Key: "isActive", Value: 1}}},
		{Keys: bson.D{{Key: "link", Value: 1}}},
	}
	if _, err := s.products.Indexes().CreateMany(ctx, productIndexes); err != nil {
		return fmt.Errorf("创建商品索引失败: %w", err)
	}

	categoryIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "source", Value: 1}}},
		{Keys: bson.D{{Key: "isActive", Value: 1}}},
	}
	if _, err := s.categories.Indexes().CreateMany(ctx, categoryIndexes); err != nil {
		return fmt.Errorf("创建分类索引失败: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]models.Product, error) {
	cursor, err := s.products.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("查询商品失败: %w", err)
	}
	products := make([]models.Product, 0)
	if err := cursor.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("读取商品失败: %w", err)
	}
	return products, nil
}
