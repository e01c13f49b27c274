// Package cachesaver stores sensor catalogs in a compact binary snapshot
// (.rgm) so large catalogs load without reparsing CSV or JSON.
//
// Layout: magic bytes, little-endian uint32 compatibility level, uint32
// header size, header message, metadata message, key table message and a
// sequence of uint32 length prefixed record chunks. Messages use the protobuf
// wire format.
package cachesaver

import (
	"errors"
	"time"
)

var MAGIC_BYTES = []byte("RGMC")

const COMPATIBILITY_LEVEL uint32 = 1

const recordsChunkSize = 1000

var ErrCorrupted = errors.New("corrupted snapshot")

type Metadata struct {
	Version     uint32
	Source      string
	DateCreated time.Time
	Count       uint64
}
