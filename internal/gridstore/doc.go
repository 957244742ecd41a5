// Package gridstore persists grids and multi-band series.
//
// Two backends share the Store interface: FileStore writes one encoded file
// per identifier beneath a root directory, SQLiteStore keeps grids as blobs
// in a SQLite database alongside a registry of pipeline runs. Both encode
// grids with Codec, which maps nodata to a storage sentinel.
package gridstore
