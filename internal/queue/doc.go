// Package queue orders merge jobs for the worker pool and bounds how many of
// them may compress at once.
//
// Queue is an in-memory, three-tier priority queue: Dequeue always drains
// high before normal before low, and entries within a tier leave in arrival
// order. The durable record of every job lives in the store; the daemon
// rebuilds the queue from it on start, so nothing here needs to survive a
// restart.
//
// Governor is a weighted semaphore sized to the compression slot count. Only
// the compression stage acquires it; cheaper stages run outside the cap.
package queue
