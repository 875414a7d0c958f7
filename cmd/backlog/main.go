// Command backlog manages backlog queues: failed jobs, worker restarts,
// sweeps, queue stats and the admin HTTP API.
package main

import "github.com/xraph/backlog/cli"

func main() {
	cli.Main(nil)
}
