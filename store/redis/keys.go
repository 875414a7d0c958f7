package redis

// keys builds Redis key names under a prefix.
//
// Per queue:
//
//	{prefix}queues:{name}           ready list
//	{prefix}queues:{name}:delayed   sorted set, score = eligible at (unix s)
//	{prefix}queues:{name}:reserved  sorted set, score = deadline (unix s)
//	{prefix}queues:{name}:notify    wake-up tokens
//
// Global:
//
//	{prefix}restart                 restart signal (unix ms)
//	{prefix}failed:{id}             failed job hash
//	{prefix}failed_index            sorted set of failed ids, score = unix ms
//	{prefix}cron_lock:{key}         cron fire lock
type keys struct {
	prefix string
}

func (k keys) ready(queue string) string    { return k.prefix + "queues:" + queue }
func (k keys) delayed(queue string) string  { return k.ready(queue) + ":delayed" }
func (k keys) reserved(queue string) string { return k.ready(queue) + ":reserved" }
func (k keys) notify(queue string) string   { return k.ready(queue) + ":notify" }

func (k keys) restart() string         { return k.prefix + "restart" }
func (k keys) failed(id string) string { return k.prefix + "failed:" + id }
func (k keys) failedIndex() string     { return k.prefix + "failed_index" }
func (k keys) cronLock(key string) string {
	return k.prefix + "cron_lock:" + key
}
