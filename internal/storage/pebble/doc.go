// Package pebblestore wraps Pebble in the point-op surface the commit
// store needs: synced Set/Delete/Get with a durability mode fixed at open.
// The commit workload is one small blob per flush, so there is no batch,
// iterator, or group-commit surface here.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: "./data"})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Set([]byte("k"), []byte("v")) // durable when it returns
//	v, _ := db.Get([]byte("k"))
package pebblestore
