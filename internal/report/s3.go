package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/rs/zerolog"
)

// putObjectAPI is the part of the S3 client used for archiving
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads run reports to an S3-compatible bucket
type S3Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	log    zerolog.Logger
}

// Ensure interface compliance
var _ Archiver = (*S3Archiver)(nil)

// NewS3Archiver creates an archiver from the report configuration. Static
// credentials are used when both keys are set, otherwise the default chain.
func NewS3Archiver(ctx context.Context, cfg *config.ReportConfig, defaultRegion string, log zerolog.Logger) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = defaultRegion
			if cfg.S3Region != "" {
				o.Region = cfg.S3Region
			}
			if o.Region == "" {
				o.Region = "us-east-1"
			}

			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			}

			if cfg.S3ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "",
				)
			}
		},
	}

	return newS3Archiver(s3.NewFromConfig(awsCfg, opts...), cfg.S3Bucket, cfg.S3Prefix, log), nil
}

func newS3Archiver(client putObjectAPI, bucket, prefix string, log zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log.With().Str("component", "s3-archiver").Logger(),
	}
}

// Archive writes <prefix>/<run_id>.json and returns its s3:// URL
func (a *S3Archiver) Archive(ctx context.Context, run *models.SyncRun, errs []models.SyncError) (string, error) {
	if errs == nil {
		errs = []models.SyncError{}
	}

	body, err := json.MarshalIndent(Document{Run: run, Errors: errs, ArchivedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}

	key := a.key(run.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading report to s3://%s/%s: %w", a.bucket, key, err)
	}

	url := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.log.Info().Str("run_id", run.ID).Str("url", url).Int("errors", len(errs)).Msg("Run report archived")
	return url, nil
}

func (a *S3Archiver) key(runID string) string {
	if a.prefix == "" {
		return runID + ".json"
	}
	return a.prefix + "/" + runID + ".json"
}
