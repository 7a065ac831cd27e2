package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamMaxLen 每个 stream 保留的大致条数
const StreamMaxLen = 10000

// PublishJSONToStream 发布 JSON 消息到 Redis Streams
// 消息字段: data (JSON 字符串), timestamp (Unix 秒)
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	// XADD MAXLEN ~ N，避免无消费者时无限增长
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":      string(jsonBytes),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
}
