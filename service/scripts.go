package service

import (
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	admitOK        = 0
	admitNoStock   = 1
	admitDuplicate = 2
)

// KEYS[1]: stock counter, KEYS[2]: set of users who ordered
// ARGV[1]: user id
// Mutates nothing unless it returns 0.
var admissionScript = redis.NewScript(`
local stock = tonumber(redis.call('GET', KEYS[1]))
if stock == nil or stock <= 0 then
	return 1
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 2
end
redis.call('INCRBY', KEYS[1], -1)
redis.call('SADD', KEYS[2], ARGV[1])
return 0
`)

// Undoes one admission. Stock is only returned when the user was in the set,
// so running it twice is harmless.
var rollbackScript = redis.NewScript(`
if redis.call('SREM', KEYS[2], ARGV[1]) == 1 then
	redis.call('INCRBY', KEYS[1], 1)
	return 1
end
return 0
`)

func stockKey(voucherID int64) string {
	return "seckill:stock:" + strconv.FormatInt(voucherID, 10)
}

func orderSetKey(voucherID int64) string {
	return "seckill:order:" + strconv.FormatInt(voucherID, 10)
}

func voucherKey(voucherID int64) string {
	return "cache:voucher:" + strconv.FormatInt(voucherID, 10)
}

func orderLockResource(userID int64) string {
	return "order:" + strconv.FormatInt(userID, 10)
}
