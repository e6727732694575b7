// Package archive ukládá readingy do souborů (Parquet, CSV.zst) a nahrává je
// do objektového úložiště (MinIO / S3) s Hive-style partition cestou.
package archive

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"lora-backend/internal/model"
)

// Record je řádek Parquet souboru. Payload zůstává jako JSON text.
type Record struct {
	ID         int64   `parquet:"name=id, type=INT64"`
	GatewayID  string  `parquet:"name=gateway_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	NodeID     string  `parquet:"name=node_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	NodeType   string  `parquet:"name=node_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Sequence   int64   `parquet:"name=sequence, type=INT64"`
	Payload    string  `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
	RSSI       int32   `parquet:"name=rssi, type=INT32"`
	SNR        float64 `parquet:"name=snr, type=DOUBLE"`
	ReceivedAt int64   `parquet:"name=received_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`
}

// ToRecord převede reading na Parquet řádek.
func ToRecord(r model.Reading) (Record, error) {
	p := r.Payload
	if p == nil {
		p = map[string]any{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return Record{}, fmt.Errorf("payload readingu %d: %w", r.ID, err)
	}
	return Record{
		ID:         r.ID,
		GatewayID:  r.GatewayID,
		NodeID:     r.NodeID,
		NodeType:   r.NodeType,
		Sequence:   r.Sequence,
		Payload:    string(b),
		RSSI:       int32(r.RSSI),
		SNR:        r.SNR,
		ReceivedAt: r.ReceivedAt.UTC().UnixMicro(),
	}, nil
}

// Time vrací ReceivedAt jako time.Time (UTC).
func (r Record) Time() time.Time { return time.UnixMicro(r.ReceivedAt).UTC() }

func codec(compression string) parquet.CompressionCodec {
	switch strings.ToUpper(compression) {
	case "ZSTD":
		return parquet.CompressionCodec_ZSTD
	case "GZIP":
		return parquet.CompressionCodec_GZIP
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED
	default:
		return parquet.CompressionCodec_SNAPPY
	}
}

// WriteParquet zapíše readingy do lokálního souboru path.
// compression: SNAPPY (default), ZSTD, GZIP, NONE.
func WriteParquet(path string, readings []model.Reading, compression string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}

	pw, err := writer.NewParquetWriter(fw, new(Record), 4)
	if err != nil {
		_ = fw.Close()
		return err
	}
	pw.CompressionType = codec(compression)

	for _, r := range readings {
		rec, err := ToRecord(r)
		if err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}

	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

// ReadParquet načte celý soubor zapsaný přes WriteParquet.
func ReadParquet(path string) ([]Record, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Record), 4)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	out := make([]Record, int(pr.GetNumRows()))
	if len(out) == 0 {
		return out, nil
	}
	if err := pr.Read(&out); err != nil {
		return nil, err
	}
	return out, nil
}
