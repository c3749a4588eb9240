// Package executorv1 is the gRPC surface of the worker executor: the
// service descriptor, typed request and response messages, and a client.
// Messages travel as google.protobuf.Struct values so the service needs no
// generated code.
package executorv1
