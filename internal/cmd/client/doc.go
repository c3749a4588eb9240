// Package client provides the executor command-line client.
//
// The CLI talks to the executor's gRPC endpoint. The address is read from
// the GOLEM_EXECUTOR_GRPC environment variable (default 127.0.0.1:9000).
// GOLEM_EXECUTOR_TIMEOUT bounds every call (default 5m, 0 for none).
//
// Usage
//
//	golem-executor component register ./counter.wasm --name counter
//
//	golem-executor worker create 6f1c.../counter-1 --arg --verbose --env MODE=test
//	golem-executor worker invoke 6f1c.../counter-1 increment --input '{"by":2}'
//	golem-executor worker invoke 6f1c.../counter-1 increment --await=false
//	golem-executor worker status 6f1c.../counter-1
//	golem-executor worker interrupt 6f1c.../counter-1 --kind suspend
//	golem-executor worker resume 6f1c.../counter-1
//	golem-executor worker jump 6f1c.../counter-1 --target 3
//
//	golem-executor oplog dump 6f1c.../counter-1 --bodies
//
//	golem-executor shards assign --number-of-shards 16 --ids 0,1,2
//	golem-executor shards revoke --ids 2
package client
