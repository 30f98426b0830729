// Package archive copies finished job results to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ShayCichocki/phylorun/internal/supervisor"
)

// ConsensusObject is the object name of the canonical consensus tree.
const ConsensusObject = "consensus.nwk"

// Client is the part of the S3 API the archiver uses.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds the bucket settings.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional; set for MinIO and other S3-compatible stores
	// PathStyle addresses the bucket in the path rather than the host.
	PathStyle bool
	Prefix    string
	// AccessKeyID and SecretAccessKey override the default credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Archiver uploads results under <prefix>/<job-id>/.
type S3Archiver struct {
	client Client
	bucket string
	prefix string
}

var _ supervisor.Archiver = (*S3Archiver)(nil)

// New creates an archiver using the AWS default configuration chain.
func New(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient creates an archiver over an existing client.
func NewWithClient(client Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key of name within a job's folder.
func (a *S3Archiver) Key(jobID, name string) string {
	return path.Join(a.prefix, jobID, name)
}

// Archive uploads each file in paths and, when non-empty, the consensus
// Newick. Every upload is attempted; the failures are returned joined.
func (a *S3Archiver) Archive(ctx context.Context, jobID string, paths []string, consensus string) error {
	var errs []error
	for _, p := range paths {
		if err := a.putFile(ctx, jobID, p); err != nil {
			errs = append(errs, err)
		}
	}
	if consensus != "" {
		key := a.Key(jobID, ConsensusObject)
		if err := a.put(ctx, key, []byte(consensus+"\n")); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		log.Printf("[archive] job %s uploaded to s3://%s/%s", jobID, a.bucket, a.Key(jobID, ""))
	}
	return errors.Join(errs...)
}

func (a *S3Archiver) putFile(ctx context.Context, jobID, p string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	return a.put(ctx, a.Key(jobID, filepath.Base(p)), data)
}

func (a *S3Archiver) put(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
