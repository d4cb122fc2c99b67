package as2

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"txbench/pkg/bench"
)

const (
	redisItemPrefix = "item:"
	redisFieldName  = "name"
	redisFieldPrice = "price"
	redisScanCount  = 1000
)

func redisItemKey(id int) string {
	return redisItemPrefix + strconv.Itoa(id)
}

// redisConnection runs AS2 transactions against items stored as hashes.
// Updates use optimistic locking, a conflicting writer aborts the
// transaction instead of retrying it.
type redisConnection struct {
	client *redis.Client
}

func newRedisConnection(opts *redis.Options) *redisConnection {
	return &redisConnection{client: redis.NewClient(opts)}
}

func (c *redisConnection) Close() error { return c.client.Close() }

func (c *redisConnection) Execute(ctx context.Context, txType bench.TxnType, params bench.Params) (bench.Outcome, error) {
	switch txType {
	case ReadItem:
		ids, err := readParams(params)
		if err != nil {
			return bench.Outcome{}, err
		}
		return c.readItems(ctx, ids)
	case UpdateItem:
		updates, err := updateParams(params)
		if err != nil {
			return bench.Outcome{}, err
		}
		return c.updateItems(ctx, updates)
	default:
		return bench.Outcome{}, fmt.Errorf("%w: %v", bench.ErrUnknownTxnType, txType)
	}
}

func (c *redisConnection) readItems(ctx context.Context, ids []int) (bench.Outcome, error) {
	cmds := make([]*redis.SliceCmd, len(ids))
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, redisItemKey(id), redisFieldName, redisFieldPrice)
		}
		return nil
	})
	if err != nil {
		return bench.Outcome{}, err
	}

	items := make([]itemInfo, len(ids))
	for i, cmd := range cmds {
		item, err := itemFromHash(cmd.Val())
		if err != nil {
			return bench.Outcome{}, fmt.Errorf("read item %v: %w", ids[i], err)
		}
		items[i] = item
	}
	return bench.Outcome{Committed: true, Output: items}, nil
}

func itemFromHash(vals []any) (itemInfo, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return itemInfo{}, errItemNotFound
	}

	name, _ := vals[0].(string)
	priceStr, _ := vals[1].(string)
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return itemInfo{}, fmt.Errorf("invalid price %q: %w", priceStr, err)
	}
	return itemInfo{Name: name, Price: price}, nil
}

func (c *redisConnection) updateItems(ctx context.Context, updates []priceUpdate) (bench.Outcome, error) {
	keys := make([]string, len(updates))
	for i, u := range updates {
		keys[i] = redisItemKey(u.id)
	}

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		prices := make(map[string]float64, len(keys))
		for _, key := range keys {
			if _, ok := prices[key]; ok {
				continue
			}
			price, err := tx.HGet(ctx, key, redisFieldPrice).Float64()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%v: %w", key, errItemNotFound)
			}
			if err != nil {
				return err
			}
			prices[key] = price
		}

		for i, u := range updates {
			prices[keys[i]] = newPrice(prices[keys[i]], u.delta)
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, price := range prices {
				pipe.HSet(ctx, key, redisFieldPrice, price)
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return bench.Outcome{Committed: false}, nil
	}
	if err != nil {
		return bench.Outcome{}, err
	}
	return bench.Outcome{Committed: true}, nil
}

func redisLoadItems(ctx context.Context, client *redis.Client, items, batchSize int, seed uint64) error {
	existing, err := client.Exists(ctx, redisItemKey(items)).Result()
	if err != nil {
		return fmt.Errorf("check items: %w", err)
	}
	if existing == 1 {
		log.Printf("AS2 Prepare: item %d already present, skip loading", items)
		return nil
	}

	r := rand.New(rand.NewPCG(seed, 0))
	for start := 1; start <= items; start += batchSize {
		end := min(start+batchSize-1, items)
		_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for id := start; id <= end; id++ {
				row := itemAt(r, id)
				pipe.HSet(ctx, redisItemKey(id),
					redisFieldName, row.name,
					redisFieldPrice, row.price,
					"im_id", row.imID,
					"data", row.data,
				)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("insert items %d-%d: %w", start, end, err)
		}
		if end%(batchSize*100) == 0 || end == items {
			log.Printf("AS2 Prepare: loaded %d/%d items", end, items)
		}
	}
	return nil
}

func redisDropItems(ctx context.Context, client *redis.Client) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, redisItemPrefix+"*", redisScanCount).Result()
		if err != nil {
			return fmt.Errorf("scan items: %w", err)
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete items: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func redisCheckItems(ctx context.Context, client *redis.Client, items int) error {
	n, err := client.Exists(ctx, redisItemKey(1), redisItemKey(items)).Result()
	if err != nil {
		return fmt.Errorf("check items: %w", err)
	}
	if n != 2 {
		return fmt.Errorf("items 1..%d are not loaded", items)
	}
	return nil
}
