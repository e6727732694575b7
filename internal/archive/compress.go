package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdWriter obalí w zstd kompresí. Volající musí zavolat Close.
func ZstdWriter(w io.Writer) (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return enc, nil
}

// ZstdReader je protějšek ZstdWriter (pro čtení archivů a testy).
func ZstdReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}
