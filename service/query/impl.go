package query

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/database/mongoclient"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/base/metrics"
	"github.com/x-xyz/bidding/domain"
)

const (
	queryMaxTime    = 20 * time.Second
	slowLogThreshMs = int64(500)
)

var (
	timeNow = time.Now
)

type impl struct {
	client *mongoclient.Client
	met    metrics.Service
}

// New initializes an impl
func New(client *mongoclient.Client, met metrics.Service) Mongo {
	return &impl{
		client: client,
		met:    met,
	}
}

func (im *impl) coll(table domain.Table) *mongo.Collection {
	return im.client.Database(im.client.DbName).Collection(string(table))
}

func (im *impl) logerr(context ctx.Ctx, table domain.Table, msg string, err error) {
	im.met.BumpSum("err", 1, "table", string(table))
	context.WithFields(log.Fields{"err": err}).Error(msg)
}

func (im *impl) Insert(context ctx.Ctx, table domain.Table, insert interface{}) error {
	defer im.slowLog(context, table, "insert", nil)()

	context = ctx.WithValue(context, "table", table)
	if _, err := im.coll(table).InsertOne(context, insert); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		im.logerr(context, table, "Insert: InsertOne failed", err)
		return err
	}
	return nil
}

func (im *impl) FindOne(context ctx.Ctx, table domain.Table, query, result interface{}) error {
	defer im.slowLog(context, table, "findone", query)()

	context = ctx.WithValues(context, map[string]interface{}{
		"table": table,
		"query": query,
	})

	res := im.coll(table).FindOne(context, query, options.FindOne().SetMaxTime(queryMaxTime))
	if err := res.Decode(result); err != nil {
		if err == mongo.ErrNoDocuments {
			return ErrNotFound
		}
		im.logerr(context, table, "FindOne: FindOne error", err)
		return err
	}
	return nil
}

func sortOption(sort string) bson.D {
	if sort == "" {
		return nil
	}
	if sort[0] == '-' {
		return bson.D{{Key: sort[1:], Value: -1}}
	}
	return bson.D{{Key: sort, Value: 1}}
}

func (im *impl) Search(context ctx.Ctx, table domain.Table, offset, limit int, sort string, query, results interface{}) error {
	defer im.slowLog(context, table, "search", query)()

	context = ctx.WithValues(context, map[string]interface{}{
		"table": table,
		"query": query,
	})

	findOpts := options.Find().SetMaxTime(queryMaxTime).SetSkip(int64(offset))
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	if s := sortOption(sort); s != nil {
		findOpts.SetSort(s)
	}
	cursor, err := im.coll(table).Find(context, query, findOpts)
	if err != nil {
		im.logerr(context, table, "Search: Find failed", err)
		return err
	}
	defer cursor.Close(context)

	if err := cursor.All(context, results); err != nil {
		im.logerr(context, table, "Search: cursor.All failed", err)
		return err
	}
	return nil
}

func (im *impl) Replace(context ctx.Ctx, table domain.Table, selector, replacement interface{}) error {
	defer im.slowLog(context, table, "replace", selector)()

	context = ctx.WithValues(context, map[string]interface{}{
		"table":    table,
		"selector": selector,
	})

	res, err := im.coll(table).ReplaceOne(context, selector, replacement)
	if err != nil {
		im.logerr(context, table, "Replace: ReplaceOne failed", err)
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (im *impl) RemoveAll(context ctx.Ctx, table domain.Table, selector interface{}) (int64, error) {
	defer im.slowLog(context, table, "removeAll", selector)()

	res, err := im.coll(table).DeleteMany(context, selector)
	if err != nil {
		im.logerr(context, table, "RemoveAll: DeleteMany failed", err)
		return 0, err
	}
	return res.DeletedCount, nil
}

func (im *impl) EnsureIndexes(context ctx.Ctx, table domain.Table, indexes ...Index) error {
	models := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		keys := bson.D{}
		for _, k := range idx.Keys {
			keys = append(keys, sortOption(k)...)
		}
		models = append(models, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(idx.Unique),
		})
	}
	if len(models) == 0 {
		return nil
	}
	if _, err := im.coll(table).Indexes().CreateMany(context, models); err != nil {
		im.logerr(context, table, "EnsureIndexes: CreateMany failed", err)
		return err
	}
	return nil
}

func (im *impl) slowLog(context ctx.Ctx, table domain.Table, action string, query interface{}) func() {
	start := timeNow()
	return func() {
		elapsedMs := time.Since(start).Milliseconds()
		im.met.BumpHistogram("time", float64(elapsedMs), "table", string(table), "action", action)
		if elapsedMs >= slowLogThreshMs {
			context.WithFields(log.Fields{
				"table":      string(table),
				"action":     action,
				"startTime":  start.Unix(),
				"durationMs": elapsedMs,
				"query":      query,
			}).Warn("mongo slowlog")
		}
	}
}
