package redisqueue

import "github.com/redis/go-redis/v9"

// Return codes shared by the scripts.
const (
	codeUnknown   = -2
	codeDead      = -1
	codeFull      = -1
	codeDuplicate = 0
)

// KEYS: tokens, message hash, lane list
// ARGV: token, capacity, body, lane
var enqueueScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	return 0
end
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return -1
end
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'body', ARGV[3], 'attempt', 0, 'lane', ARGV[4])
redis.call('RPUSH', KEYS[3], ARGV[1])
return 1
`)

// KEYS: interactive lane, batch lane, leases
// ARGV: message key prefix, lease expiry in ms
var popScript = redis.NewScript(`
for i = 1, 2 do
	local token = redis.call('LPOP', KEYS[i])
	while token do
		local key = ARGV[1] .. token
		if redis.call('EXISTS', key) == 1 and not redis.call('ZSCORE', KEYS[3], token) then
			redis.call('ZADD', KEYS[3], ARGV[2], token)
			local attempt = redis.call('HINCRBY', key, 'attempt', 1)
			local last = redis.call('HGET', key, 'last_error') or ''
			return {token, redis.call('HGET', key, 'body'), tostring(attempt), last}
		end
		token = redis.call('LPOP', KEYS[i])
	end
end
return false
`)

// KEYS: leases, interactive lane, batch lane
// ARGV: now in ms, message key prefix
var reapScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, token in ipairs(expired) do
	redis.call('ZREM', KEYS[1], token)
	local lane = redis.call('HGET', ARGV[2] .. token, 'lane')
	if lane then
		redis.call('RPUSH', KEYS[2 + tonumber(lane)], token)
	end
end
return #expired
`)

// KEYS: tokens, leases, message hash, interactive lane, batch lane
// ARGV: token
var ackScript = redis.NewScript(`
if redis.call('SREM', KEYS[1], ARGV[1]) == 0 then
	return -2
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
redis.call('LREM', KEYS[4], 0, ARGV[1])
redis.call('LREM', KEYS[5], 0, ARGV[1])
return 1
`)

// KEYS: tokens, leases, message hash, dead list, interactive lane, batch lane
// ARGV: token, reason, max attempts
var nackScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
	return -2
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], 'last_error', ARGV[2])
local attempt = tonumber(redis.call('HGET', KEYS[3], 'attempt'))
if attempt >= tonumber(ARGV[3]) then
	local msg = cjson.decode(redis.call('HGET', KEYS[3], 'body'))
	msg['attempt'] = attempt
	msg['last_error'] = ARGV[2]
	redis.call('RPUSH', KEYS[4], cjson.encode(msg))
	redis.call('SREM', KEYS[1], ARGV[1])
	redis.call('DEL', KEYS[3])
	return -1
end
local lane = tonumber(redis.call('HGET', KEYS[3], 'lane'))
redis.call('RPUSH', KEYS[5 + lane], ARGV[1])
return attempt
`)
