// Package funcflow is the execution runtime of a cloud-function worker. It
// long-polls a control plane for the next invocation, hands the raw event to a
// user handler and reports the output or a structured error back. The handler
// is built once per process through a Factory and shut down when the runtime
// stops.
//
// Run is the usual entry point: it reads the configuration from the
// environment (and a .env file), wires logging and Prometheus metrics, and
// drives a Lifecycle until MaxTimes invocations completed or the stop signal
// arrived.
//
// # Handlers
//
// Handlers come in three shapes:
//   - Handler works on raw bytes.
//   - TypedHandler decodes and encodes through codecs; adapt it with Typed.
//   - SimpleHandler has an Init step and plain typed Handle; build it with Simple.
//
// JSONCodec, StringCodec, BytesCodec and ProtoCodec cover the common payloads.
// Inside a handler, FromContext returns the per-invocation InvocationContext
// with the request id, the memory limit and the deadline.
//
// # Local mode
//
// With LOCAL_SERVER_ENABLED=true Run starts a LocalServer that plays the
// control plane on 127.0.0.1:7000. POST an event to /invoke and the handler
// output comes back in the response. Submissions are queued in order and
// handed to the runtime one at a time.
//
// Setting BRIDGE_TRANSPORT additionally feeds the local server from a broker
// (channel, kafka, nats, rabbitmq, aws or http) and publishes every outcome
// to BRIDGE_REPLY_TOPIC.
package funcflow
