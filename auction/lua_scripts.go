package auction

import "github.com/redis/go-redis/v9"

// guardBidScript 用於對快取的最高出價做快速檢查
//
//	KEYS[1] - 快取最高出價的鍵
//	ARGV[1] - 新的出價金額
//	ARGV[2] - 鍵的過期秒數
//
// 返回值:
//
//	1  - 出價高於快取的最高出價，快取已更新
//	0  - 出價不高於快取的最高出價
//	-1 - 快取不存在，需要在鎖內從資料庫回填後重試
//
// 這只是快速失敗的前置檢查，資料庫交易內仍會以最新狀態重新驗證，
// 因此快取過期或遺失不影響正確性
var guardBidScript = redis.NewScript(`
-- 檢查快取是否存在
local exists = redis.call('EXISTS', KEYS[1])
if exists == 0 then
    return -1
end

-- 取得快取的最高出價
local current = tonumber(redis.call('GET', KEYS[1])) or 0
local new_bid = tonumber(ARGV[1])

-- 新出價必須嚴格高於目前最高出價
if new_bid <= current then
    return 0
end

-- 更新快取並刷新過期時間
redis.call('SET', KEYS[1], new_bid, 'EX', ARGV[2])

return 1
`)
