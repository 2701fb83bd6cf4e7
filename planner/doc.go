// Package planner splits record ids into bounded batches and computes the
// burst-then-throttle schedule that spreads their release over time.
//
// The first BurstBatches batches are released immediately. Every later
// batch gets a "not before" timestamp spaced BatchDelay apart, which keeps
// steady-state throughput under the vendor's rate limit and leaves headroom
// for webhook traffic. Everything here is pure.
package planner
