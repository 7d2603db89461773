package storage

import (
	"bytes"

	"newspipe/types"

	"github.com/parquet-go/parquet-go"
)

// EncodeParquet writes articles as a snappy-compressed Parquet file whose columns
// follow the field order of types.CanonicalArticle.
func EncodeParquet(articles []types.CanonicalArticle) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[types.CanonicalArticle](&buf, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(articles); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads back a file produced by EncodeParquet.
func DecodeParquet(data []byte) ([]types.CanonicalArticle, error) {
	return parquet.Read[types.CanonicalArticle](bytes.NewReader(data), int64(len(data)))
}
