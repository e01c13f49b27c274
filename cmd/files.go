package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

type zstdFile struct {
	*zstd.Encoder
	file *os.File
}

func (f zstdFile) Close() error {
	if err := f.Encoder.Close(); err != nil {
		f.file.Close()
		return err
	}
	return f.file.Close()
}

// createWriter creates name, compressing with zstd when it ends in .zst.
func createWriter(name string) (io.WriteCloser, error) {
	file, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("can`t create file error: %w", err)
	}

	if strings.HasSuffix(name, ".zst") {
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("can`t create zstd writer: %w", err)
		}
		return zstdFile{Encoder: enc, file: file}, nil
	}

	return file, nil
}
