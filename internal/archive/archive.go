package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lora-backend/internal/query"
)

// Formáty archivu.
const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
)

// ObjectUploader je cíl nahrávání. *Uploader ho implementuje.
type ObjectUploader interface {
	Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
}

// Options popisují jeden běh archivace.
type Options struct {
	// NodeID omezí archiv na jeden node. Prázdné = všechny readingy.
	NodeID string

	// Format: parquet (default) nebo csv.
	Format string

	// Compression: Parquet kodek (SNAPPY, ZSTD, GZIP, NONE), u CSV "zstd" nebo nic.
	Compression string

	BasePath string

	// TmpDir pro lokální soubor před uploadem (default os.TempDir()).
	TmpDir string

	// KeepLocal ponechá lokální soubor i po úspěšném uploadu.
	KeepLocal bool

	Now time.Time
}

// Result popisuje, co se nahrálo.
type Result struct {
	Object    string `json:"object"`
	LocalPath string `json:"local_path,omitempty"`
	Rows      int    `json:"rows"`
	Bytes     int64  `json:"bytes"`
}

// FileName: part-<UTC čas>-<uuid>.<ext>, unikátní i při souběžných bězích.
func FileName(t time.Time, ext string) string {
	return fmt.Sprintf("part-%s-%s.%s", t.UTC().Format("2006-01-02T15-04-05Z"), uuid.NewString(), ext)
}

// Run vyexportuje readingy do dočasného souboru a nahraje ho do up.
// Bez readingů se nic nenahrává a Result.Rows je 0.
func Run(ctx context.Context, q *query.Engine, up ObjectUploader, opts Options) (Result, error) {
	ts := opts.Now
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	dir := opts.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}

	var (
		ext, contentType string
		write            func(path string) (int, error)
	)
	switch strings.ToLower(opts.Format) {
	case "", FormatParquet:
		ext, contentType = "parquet", "application/octet-stream"
		write = func(path string) (int, error) {
			readings, err := q.ListReadings(ctx, query.Filter{NodeID: opts.NodeID, Limit: query.NoLimit})
			if err != nil || len(readings) == 0 {
				return 0, err
			}
			return len(readings), WriteParquet(path, readings, opts.Compression)
		}
	case FormatCSV:
		zst := strings.EqualFold(opts.Compression, "zstd")
		ext, contentType = "csv", "text/csv"
		if zst {
			ext, contentType = "csv.zst", "application/zstd"
		}
		write = func(path string) (int, error) { return WriteCSV(ctx, q, path, opts.NodeID, zst) }
	default:
		return Result{}, fmt.Errorf("archive: neznámý formát %q (parquet, csv)", opts.Format)
	}

	fn := FileName(ts, ext)
	tmp := filepath.Join(dir, fn)

	rows, err := write(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return Result{}, err
	}
	if rows == 0 {
		_ = os.Remove(tmp)
		return Result{}, nil
	}

	f, err := os.Open(tmp)
	if err != nil {
		return Result{}, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Result{}, err
	}

	res := Result{Object: BuildObjectPath(opts.BasePath, ts, fn), Rows: rows, Bytes: fi.Size()}
	if err := up.Upload(ctx, res.Object, f, fi.Size(), contentType); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("upload %s: %w", res.Object, err)
	}
	_ = f.Close()

	if opts.KeepLocal {
		res.LocalPath = tmp
	} else {
		_ = os.Remove(tmp)
	}
	return res, nil
}

// WriteCSV zapíše CSV export (s zst komprimovaný zstd) do souboru path.
// Vrací počet řádků bez hlavičky.
func WriteCSV(ctx context.Context, q *query.Engine, path, nodeID string, zst bool) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var w io.Writer = f
	var enc io.WriteCloser
	if zst {
		if enc, err = ZstdWriter(f); err != nil {
			return 0, err
		}
		// uvolní goroutiny encoderu i při chybě exportu
		defer enc.Close()
		w = enc
	}

	n, err := q.ExportCSV(ctx, w, nodeID)
	if err != nil {
		return 0, err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return 0, err
		}
	}
	return n, f.Sync()
}
