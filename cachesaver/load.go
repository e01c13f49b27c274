package cachesaver

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/royalcat/rgeomatch/geomodel"
	"google.golang.org/protobuf/encoding/protowire"
)

// IsSnapshot reports whether b starts with the snapshot magic bytes.
func IsSnapshot(b []byte) bool {
	return bytes.HasPrefix(b, MAGIC_BYTES)
}

func LoadFromReader(reader io.Reader, log *slog.Logger) ([]geomodel.SensorRecord[int64], Metadata, error) {
	magic := make([]byte, len(MAGIC_BYTES))
	if _, err := io.ReadFull(reader, magic); err != nil {
		return nil, Metadata{}, fmt.Errorf("error reading magic bytes: %w", err)
	}
	if !IsSnapshot(magic) {
		return nil, Metadata{}, fmt.Errorf("%w: magic bytes not detected", ErrCorrupted)
	}

	var compatibilityLevel uint32
	if err := binary.Read(reader, binary.LittleEndian, &compatibilityLevel); err != nil {
		return nil, Metadata{}, fmt.Errorf("error reading compatibility level: %w", err)
	}
	if compatibilityLevel != COMPATIBILITY_LEVEL {
		return nil, Metadata{}, fmt.Errorf("unsupported compatibility level: %d", compatibilityLevel)
	}

	records, meta, err := loadV1(reader)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("error loading v1 snapshot: %w", err)
	}
	log.Info("Loaded snapshot metadata", "version", meta.Version, "source", meta.Source, "date_created", meta.DateCreated, "count", meta.Count)
	return records, meta, nil
}

func loadV1(r io.Reader) ([]geomodel.SensorRecord[int64], Metadata, error) {
	var headerSize uint32
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, Metadata{}, err
	}
	headerBytes, err := readBlob(r, uint64(headerSize))
	if err != nil {
		return nil, Metadata{}, err
	}

	var metaSize, keysSize, chunks uint64
	err = walkFields(headerBytes, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType {
			return 0, nil
		}
		v, n := protowire.ConsumeVarint(b)
		switch num {
		case headerMetadataSize:
			metaSize = v
		case headerKeysSize:
			keysSize = v
		case headerChunks:
			chunks = v
		}
		return n, nil
	})
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("header: %w", err)
	}

	metaBytes, err := readBlob(r, metaSize)
	if err != nil {
		return nil, Metadata{}, err
	}
	meta, err := parseMetadata(metaBytes)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("metadata: %w", err)
	}

	keysBytes, err := readBlob(r, keysSize)
	if err != nil {
		return nil, Metadata{}, err
	}
	keys := []string{}
	err = walkFields(keysBytes, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != keysKey || typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeString(b)
		keys = append(keys, v)
		return n, nil
	})
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("key table: %w", err)
	}

	records := make([]geomodel.SensorRecord[int64], 0, min(meta.Count, recordsChunkSize))
	for range chunks {
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, Metadata{}, err
		}
		chunk, err := readBlob(r, uint64(size))
		if err != nil {
			return nil, Metadata{}, err
		}
		err = walkFields(chunk, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num != chunkRecord || typ != protowire.BytesType {
				return 0, nil
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			rec, err := parseRecord(v, keys)
			if err != nil {
				return 0, err
			}
			records = append(records, rec)
			return n, nil
		})
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("records chunk: %w", err)
		}
	}

	if uint64(len(records)) != meta.Count {
		return nil, Metadata{}, fmt.Errorf("%w: expected %d records, got %d", ErrCorrupted, meta.Count, len(records))
	}
	return records, meta, nil
}

// readBlob reads size bytes. The buffer grows with the data actually read, so
// a corrupt size prefix fails at EOF instead of allocating it up front.
const blobPrealloc = 64 << 10

func readBlob(r io.Reader, size uint64) ([]byte, error) {
	if size > math.MaxUint32 {
		return nil, fmt.Errorf("%w: blob size %d", ErrCorrupted, size)
	}
	var buf bytes.Buffer
	buf.Grow(int(min(size, blobPrealloc)))
	n, err := io.CopyN(&buf, r, int64(size))
	if err == io.EOF {
		return nil, fmt.Errorf("%w: blob of %d bytes truncated at %d", ErrCorrupted, size, n)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// walkFields calls fn for every field of a message. fn consumes the value and
// returns its length, 0 skips the field.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func parseMetadata(b []byte) (Metadata, error) {
	meta := Metadata{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == metaVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			meta.Version = uint32(v)
			return n, nil
		case num == metaCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			meta.Count = v
			return n, nil
		case num == metaSource && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			meta.Source = v
			return n, nil
		case num == metaDateCreated && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, nil
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return 0, err
			}
			meta.DateCreated = t
			return n, nil
		}
		return 0, nil
	})
	return meta, err
}

func parseRecord(b []byte, keys []string) (geomodel.SensorRecord[int64], error) {
	rec := geomodel.SensorRecord[int64]{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == recordID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			rec.ID = protowire.DecodeZigZag(v)
			return n, nil
		case num == recordLat && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			rec.Location.Lat = math.Float64frombits(v)
			return n, nil
		case num == recordLon && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			rec.Location.Lon = math.Float64frombits(v)
			return n, nil
		case num == recordExtra && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			k, val, err := parseExtra(v, keys)
			if err != nil {
				return 0, err
			}
			if rec.Extra == nil {
				rec.Extra = map[string]string{}
			}
			rec.Extra[k] = val
			return n, nil
		}
		return 0, nil
	})
	return rec, err
}

func parseExtra(b []byte, keys []string) (string, string, error) {
	var key uint64
	var value string
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == extraKey && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			key = v
			return n, nil
		case num == extraValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			value = v
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return "", "", err
	}
	if key >= uint64(len(keys)) {
		return "", "", fmt.Errorf("%w: key index %d out of table", ErrCorrupted, key)
	}
	return keys[key], value, nil
}
