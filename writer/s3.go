package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"cryptex/config"
	"cryptex/logger"
	"cryptex/models"
)

type candleParquetRecord struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timeframe string  `parquet:"name=timeframe, type=BYTE_ARRAY, convertedtype=UTF8"`
	OpenTime  int64   `parquet:"name=open_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
	FetchedAt int64   `parquet:"name=fetched_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// objectPutter is the slice of the S3 client the dumper needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Dumper uploads each refresh as a parquet object partitioned by symbol,
// timeframe and date.
type S3Dumper struct {
	client      objectPutter
	bucket      string
	prefix      string
	compression string
	version     string
	log         *logger.Log
}

func NewS3Dumper(ctx context.Context, cfg config.S3Config, version string) (*S3Dumper, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3Dumper(client, cfg, version), nil
}

func newS3Dumper(client objectPutter, cfg config.S3Config, version string) *S3Dumper {
	return &S3Dumper{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		compression: strings.ToLower(cfg.Compression),
		version:     version,
		log:         logger.GetLogger(),
	}
}

func (d *S3Dumper) Dump(ctx context.Context, snapshot models.MarketSnapshot) error {
	if len(snapshot.Candles) == 0 {
		return nil
	}
	data, err := d.encode(snapshot)
	if err != nil {
		return err
	}

	key := d.objectKey(snapshot)
	start := time.Now()
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":    "parquet",
			"compression":     d.compression,
			"cryptex-version": d.version,
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	entry := d.log.WithComponent("s3_dumper").WithFields(logger.Fields{
		"bucket":    d.bucket,
		"s3_key":    key,
		"file_size": len(data),
		"candles":   len(snapshot.Candles),
	})
	logger.LogPerformanceEntry(entry, "s3_dumper", "upload", time.Since(start), nil)
	entry.Info("candles uploaded")
	return nil
}

func (d *S3Dumper) encode(snapshot models.MarketSnapshot) ([]byte, error) {
	mem := newMemFile()
	pw, err := pqwriter.NewParquetWriter(mem, new(candleParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}

	switch d.compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	fetched := snapshot.FetchedAt.UnixMilli()
	for _, c := range snapshot.Candles {
		rec := candleParquetRecord{
			Symbol:    snapshot.Symbol,
			Timeframe: snapshot.Timeframe,
			OpenTime:  c.OpenTime.UnixMilli(),
			Open:      c.Open.InexactFloat64(),
			High:      c.High.InexactFloat64(),
			Low:       c.Low.InexactFloat64(),
			Close:     c.Close.InexactFloat64(),
			Volume:    c.Volume.InexactFloat64(),
			FetchedAt: fetched,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write candle record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize candle parquet: %w", err)
	}
	return mem.Bytes(), nil
}

func (d *S3Dumper) objectKey(snapshot models.MarketSnapshot) string {
	ts := snapshot.FetchedAt.UTC()
	filename := fmt.Sprintf("%s_%s_%s_%s.parquet",
		strings.ToUpper(snapshot.Symbol),
		snapshot.Timeframe,
		ts.Format("20060102150405"),
		uuid.NewString(),
	)
	return path.Join(
		d.prefix,
		"symbol="+strings.ToUpper(snapshot.Symbol),
		"timeframe="+snapshot.Timeframe,
		"date="+ts.Format("2006-01-02"),
		filename,
	)
}
