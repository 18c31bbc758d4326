// Package snapshot publishes assembled dataset tables to Redis.
//
// A snapshot is a finished table plus the run that produced it. Pages are
// never stored: every connector run fetches from the gateway, and the store
// only makes the last result of a run available to other readers.
//
// # Keys
//
// Each save writes two keys with the same TTL:
//
//	aircall:snapshot:<dataset>            latest run of the dataset
//	aircall:snapshot:<dataset>:<run_id>   that specific run
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	store := snapshot.NewStore(redisClient, 24*time.Hour)
//
//	if err := store.Save(ctx, snapshot.FromResult(res)); err != nil {
//		return err
//	}
//
//	entry, err := store.Latest(ctx, dataset.Calls)
//	if errors.Is(err, snapshot.ErrNotFound) {
//		// Nothing published yet
//	}
//
// # Metrics
//
//   - aircall_snapshot_operations_total{operation, status} - Store operations
//   - aircall_snapshot_size_bytes{dataset} - Size of the last saved snapshot
package snapshot
