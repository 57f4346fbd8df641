// Package commitstore persists the log's commit metadata: a small opaque
// blob written atomically on every commit and read back once at open.
//
// Two backends are provided. FileStore keeps the blob in a sidecar file next
// to the device (write to a temp file, fsync, rename); it is the default.
// PebbleStore keeps the blob under a fixed key in a Pebble database, for
// embedders that already operate one.
//
// The log core serializes Persist calls under its commit lock, so backends
// only need atomicity of a single replace, not concurrency control.
package commitstore
