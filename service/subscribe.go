package service

import (
	"context"
	"encoding/json"

	"github.com/anchel/voucher-seckill/mongodb"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// StartSubscribeDeadLetter logs every dead-letter announcement until ctx is
// done. handle, when set, is called for each decoded record.
func StartSubscribeDeadLetter(ctx context.Context, rdb *redis.Client, handle func(*mongodb.EntityDeadLetter)) {
	pubsub := rdb.Subscribe(ctx, DeadLetterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var dl mongodb.EntityDeadLetter
			if err := json.Unmarshal([]byte(msg.Payload), &dl); err != nil {
				log.Error("subscribe deadletter Unmarshal", "err", err)
				continue
			}
			log.Warn("order needs reconciliation", "orderID", dl.OrderID, "userID", dl.UserID, "voucherID", dl.VoucherID, "reason", dl.Reason)
			if handle != nil {
				handle(&dl)
			}
		}
	}
}
