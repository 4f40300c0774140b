package ingest

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/datadock/datadock/pkg/decode"
	"github.com/datadock/datadock/pkg/table"
)

// loadS3 resolves files against an object-storage bucket. Keys are
// matched like remote repository paths (exact, then basename) and the
// object's LastModified is the effective date. A custom endpoint with
// path-style addressing supports MinIO-compatible stores.
func (o *Orchestrator) loadS3(ctx context.Context, files []string, src Source, data map[string]*table.Table, dates map[string]time.Time, lg *Log) {
	if src.Bucket == "" {
		lg.Warnf("s3 mode selected but no bucket configured")
		return
	}

	client, err := newS3Client(ctx, src)
	if err != nil {
		lg.Warnf("failed to configure s3 client: %v", err)
		return
	}

	keys, modified, err := listBucket(ctx, client, src.Bucket, src.Prefix)
	if err != nil {
		lg.Warnf("failed to list bucket %s: %v", src.Bucket, err)
		return
	}
	if len(keys) == 0 {
		lg.Warnf("bucket %s lists no objects under %q", src.Bucket, src.Prefix)
		return
	}
	lg.Infof("s3 listing: %d objects in %s", len(keys), src.Bucket)

	for _, name := range files {
		key, fallback := resolveRemotePath(name, keys)
		if key == "" {
			lg.Warnf("object not found in bucket: %s", name)
			continue
		}
		if fallback {
			lg.Infof("using fallback key for %s: %s", name, key)
		}

		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(src.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			lg.Warnf("failed to fetch %s: %v", name, err)
			continue
		}
		content, err := io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			lg.Warnf("failed to read %s: %v", name, err)
			continue
		}

		tbl, err := decode.Bytes(name, content)
		if err != nil {
			lg.Warnf("failed to decode %s: %v", name, err)
			continue
		}
		if tbl == nil {
			lg.Warnf("unsupported file type: %s", name)
			continue
		}

		data[name] = tbl
		dates[name] = modified[key]
		lg.Infof("loaded %s from s3://%s/%s (%d rows)", name, src.Bucket, key, tbl.NumRows())
	}
}

func newS3Client(ctx context.Context, src Source) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if src.Region != "" {
		opts = append(opts, awsconfig.WithRegion(src.Region))
	}
	if src.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(src.AccessKey, src.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if src.Endpoint != "" {
			o.BaseEndpoint = aws.String(src.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// listBucket returns every key under prefix plus its LastModified.
func listBucket(ctx context.Context, client *s3.Client, bucket, prefix string) ([]string, map[string]time.Time, error) {
	var keys []string
	modified := map[string]time.Time{}

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || path.Base(key) == "" {
				continue
			}
			keys = append(keys, key)
			if obj.LastModified != nil {
				modified[key] = *obj.LastModified
			}
		}
	}
	return keys, modified, nil
}
