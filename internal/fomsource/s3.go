// Package fomsource fetches FOM module bundles from external stores so a
// node can be provisioned with an initial object model without baking it
// into the binary (SPEC_FULL.md DOMAIN STACK). FDD XML parsing stays out
// of scope: the stored objects are the same encoded module bundles the
// wire protocol carries.
package fomsource

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/openrti-go/rticore/internal/fom"
)

// Config selects the bucket holding module bundles and how to reach it.
type Config struct {
	Region   string
	Bucket   string
	Endpoint string
	// AccessKey/SecretKey switch from the default credential chain to
	// static credentials, for S3-compatible stores.
	AccessKey string
	SecretKey string
}

// S3ModuleSource reads encoded FOM module bundles from an S3 bucket.
type S3ModuleSource struct {
	client *s3.Client
	bucket string
	logger *zap.SugaredLogger
}

// New builds a module source, verifying the credential chain with one
// STS caller-identity call so a misconfigured node fails at startup
// rather than at the first join.
func New(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*S3ModuleSource, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("fomsource: aws config: %w", err)
	}

	if cfg.AccessKey == "" {
		identity, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return nil, fmt.Errorf("fomsource: credential check: %w", err)
		}
		logger.Infow("module source credentials verified", "arn", aws.ToString(identity.Arn))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3ModuleSource{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Fetch loads and decodes the module bundles stored under the given keys.
func (s *S3ModuleSource) Fetch(ctx context.Context, keys []string) ([]fom.Module, error) {
	bufs := make([][]byte, 0, len(keys))
	for _, key := range keys {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				return nil, fmt.Errorf("fomsource: get %s/%s: %s: %w", s.bucket, key, apiErr.ErrorCode(), err)
			}
			return nil, fmt.Errorf("fomsource: get %s/%s: %w", s.bucket, key, err)
		}
		buf, err := io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("fomsource: read %s/%s: %w", s.bucket, key, err)
		}
		bufs = append(bufs, buf)
		s.logger.Debugw("module bundle fetched", "key", key, "bytes", len(buf))
	}
	return fom.DecodeModules(bufs)
}
