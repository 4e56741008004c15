package writer

import (
	"bytes"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"l4book/book"
)

// levelRecord is one aggregated price level of a book snapshot. Price and
// size are kept both as exact decimal text and as doubles for querying.
type levelRecord struct {
	Market       string  `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	SnapshotTime int64   `parquet:"name=snapshot_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Version      int64   `parquet:"name=version, type=INT64"`
	Stale        bool    `parquet:"name=stale, type=BOOLEAN"`
	Side         string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level        int32   `parquet:"name=level, type=INT32"`
	PriceText    string  `parquet:"name=price_text, type=BYTE_ARRAY, convertedtype=UTF8"`
	SizeText     string  `parquet:"name=size_text, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price        float64 `parquet:"name=price, type=DOUBLE"`
	Size         float64 `parquet:"name=size, type=DOUBLE"`
	OrderCount   int32   `parquet:"name=order_count, type=INT32"`
}

type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// snapshotRows flattens the top depth levels of each side, bids first.
func snapshotRows(snap *book.Snapshot, depth int, at time.Time) []levelRecord {
	rows := make([]levelRecord, 0, 2*depth)
	for _, side := range []book.Side{book.Bid, book.Ask} {
		for i, lvl := range snap.TopN(side, depth) {
			price, _ := lvl.Price.Float64()
			size, _ := lvl.Size.Float64()
			rows = append(rows, levelRecord{
				Market:       snap.Market(),
				SnapshotTime: at.UnixMilli(),
				Version:      int64(snap.Version()),
				Stale:        snap.Stale(),
				Side:         side.String(),
				Level:        int32(i),
				PriceText:    lvl.Price.String(),
				SizeText:     lvl.Size.String(),
				Price:        price,
				Size:         size,
				OrderCount:   int32(lvl.Count),
			})
		}
	}
	return rows
}

func encodeParquet(rows []levelRecord) ([]byte, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(levelRecord), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}
