package io

import (
	"crypto/sha256"
	"hash"
	"io"
)

type ChecksumWriter interface {
	io.Writer
	Sum() []byte
}

type SHA256Writer struct {
	dest io.Writer
	h    hash.Hash
}

func NewSHA256Writer(dest io.Writer) ChecksumWriter {
	return &SHA256Writer{
		dest: dest,
		h:    sha256.New(),
	}
}

func (sw *SHA256Writer) Write(buf []byte) (int, error) {
	n, err := sw.dest.Write(buf)
	if 0 < n {
		sw.h.Write(buf[:n])
	}
	return n, err
}

// Get SHA-256 checksum of bytes have been written.
func (sw *SHA256Writer) Sum() []byte {
	return sw.h.Sum(nil)
}
