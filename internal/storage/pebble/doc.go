// Package pebblestore provides a thin wrapper around Pebble with an explicit
// fsync policy, batches, and iterators. The log engine keeps its project
// registry state and per-entry hash index here; segment bytes themselves live
// in plain text files.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/index",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
package pebblestore
