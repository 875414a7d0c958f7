package redis

import "github.com/redis/go-redis/v9"

// pushScript appends a record to the ready list and adds a notify token.
//
// KEYS[1] ready, KEYS[2] notify
// ARGV[1] record
var pushScript = redis.NewScript(`
redis.call('rpush', KEYS[1], ARGV[1])
redis.call('rpush', KEYS[2], 1)
return 1
`)

// reserveScript pops the ready head, increments its attempts and adds it
// to the reserved set scored by now + runningTimeoutSec, in milliseconds. A head that is
// not valid JSON is dropped and returned alone so the caller can report
// it.
//
// KEYS[1] ready, KEYS[2] reserved, KEYS[3] notify
// ARGV[1] now (unix milliseconds)
var reserveScript = redis.NewScript(`
local raw = redis.call('lpop', KEYS[1])
if not raw then
  return false
end

local ok, job = pcall(cjson.decode, raw)
if not ok or type(job) ~= 'table' then
  return {raw}
end

job.attempts = (tonumber(job.attempts) or 0) + 1
local reserved = cjson.encode(job)
local deadline = tonumber(ARGV[1]) + (tonumber(job.runningTimeoutSec) or 0) * 1000
redis.call('zadd', KEYS[2], deadline, reserved)
redis.call('lpop', KEYS[3])

return {raw, reserved}
`)

// promoteScript moves every member of a sorted set scored at or before now
// to the ready list, 100 at a time, with one notify token per member.
//
// KEYS[1] delayed or reserved set, KEYS[2] ready, KEYS[3] notify
// ARGV[1] now (unix milliseconds)
var promoteScript = redis.NewScript(`
local val = redis.call('zrangebyscore', KEYS[1], '-inf', ARGV[1])
if #val == 0 then
  return 0
end

redis.call('zremrangebyrank', KEYS[1], 0, #val - 1)
for i = 1, #val, 100 do
  local last = math.min(i + 99, #val)
  redis.call('rpush', KEYS[2], unpack(val, i, last))
  for _ = i, last do
    redis.call('rpush', KEYS[3], 1)
  end
end

return #val
`)

// rescheduleScript moves a reservation to the delayed set, only if it is
// still reserved. Returns 1 when moved.
//
// KEYS[1] delayed, KEYS[2] reserved
// ARGV[1] reserved record, ARGV[2] score (unix milliseconds)
var rescheduleScript = redis.NewScript(`
local removed = redis.call('zrem', KEYS[2], ARGV[1])
if removed == 1 then
  redis.call('zadd', KEYS[1], ARGV[2], ARGV[1])
end
return removed
`)

// clearScript deletes every collection of a queue and returns how many
// records they held.
//
// KEYS[1] ready, KEYS[2] delayed, KEYS[3] reserved, KEYS[4] notify
var clearScript = redis.NewScript(`
local size = redis.call('llen', KEYS[1]) + redis.call('zcard', KEYS[2]) + redis.call('zcard', KEYS[3])
redis.call('del', KEYS[1], KEYS[2], KEYS[3], KEYS[4])
return size
`)
