package cachesaver

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"
	"time"

	"github.com/royalcat/rgeomatch/geomodel"
	"google.golang.org/protobuf/encoding/protowire"
)

// header fields
const (
	headerMetadataSize protowire.Number = 1
	headerKeysSize     protowire.Number = 2
	headerChunks       protowire.Number = 3
)

// metadata fields
const (
	metaVersion     protowire.Number = 1
	metaSource      protowire.Number = 2
	metaDateCreated protowire.Number = 3
	metaCount       protowire.Number = 4
)

// chunk and record fields
const (
	keysKey protowire.Number = 1

	chunkRecord protowire.Number = 1

	recordID    protowire.Number = 1
	recordLat   protowire.Number = 2
	recordLon   protowire.Number = 3
	recordExtra protowire.Number = 4

	extraKey   protowire.Number = 1
	extraValue protowire.Number = 2
)

func Save(w io.Writer, records []geomodel.SensorRecord[int64], meta Metadata) error {
	keys := newKeyTable()
	chunks := [][]byte{}
	for i := 0; i < len(records); i += recordsChunkSize {
		end := min(i+recordsChunkSize, len(records))

		var chunk []byte
		for _, r := range records[i:end] {
			chunk = protowire.AppendTag(chunk, chunkRecord, protowire.BytesType)
			chunk = protowire.AppendBytes(chunk, appendRecord(nil, r, keys))
		}
		chunks = append(chunks, chunk)
	}

	var keysBytes []byte
	for _, k := range keys.Slice() {
		keysBytes = protowire.AppendTag(keysBytes, keysKey, protowire.BytesType)
		keysBytes = protowire.AppendString(keysBytes, k)
	}

	meta.Count = uint64(len(records))
	metaBytes := appendMetadata(nil, meta)

	var header []byte
	header = appendVarintField(header, headerMetadataSize, uint64(len(metaBytes)))
	header = appendVarintField(header, headerKeysSize, uint64(len(keysBytes)))
	header = appendVarintField(header, headerChunks, uint64(len(chunks)))

	if _, err := w.Write(MAGIC_BYTES); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, COMPATIBILITY_LEVEL); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return err
	}
	for _, b := range [][]byte{header, metaBytes, keysBytes} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}

	for _, chunk := range chunks {
		if len(chunk) > math.MaxUint32 {
			return fmt.Errorf("records chunk too large: %d bytes", len(chunk))
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(chunk))); err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}

	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMetadata(b []byte, meta Metadata) []byte {
	b = appendVarintField(b, metaVersion, uint64(meta.Version))
	b = protowire.AppendTag(b, metaSource, protowire.BytesType)
	b = protowire.AppendString(b, meta.Source)
	if !meta.DateCreated.IsZero() {
		b = protowire.AppendTag(b, metaDateCreated, protowire.BytesType)
		b = protowire.AppendString(b, meta.DateCreated.Format(time.RFC3339))
	}
	b = appendVarintField(b, metaCount, meta.Count)
	return b
}

func appendRecord(b []byte, r geomodel.SensorRecord[int64], keys *keyTable) []byte {
	b = protowire.AppendTag(b, recordID, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.ID))
	b = protowire.AppendTag(b, recordLat, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(r.Location.Lat))
	b = protowire.AppendTag(b, recordLon, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(r.Location.Lon))

	// sorted so equal catalogs produce equal snapshots
	names := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		names = append(names, k)
	}
	slices.Sort(names)

	for _, k := range names {
		var extra []byte
		extra = appendVarintField(extra, extraKey, keys.Add(k))
		extra = protowire.AppendTag(extra, extraValue, protowire.BytesType)
		extra = protowire.AppendString(extra, r.Extra[k])

		b = protowire.AppendTag(b, recordExtra, protowire.BytesType)
		b = protowire.AppendBytes(b, extra)
	}
	return b
}
