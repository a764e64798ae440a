// Package aws holds the AWS-backed adapters: the Secrets Manager secret
// backend, the S3 evidence store and the SNS/SQS notifier.
package aws

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// Options select the account, region and endpoint
type Options struct {
	Region   string
	Profile  string
	Endpoint string // override, e.g. http://localhost:4566 for LocalStack
}

// Clients loads the AWS config once, on first use. Commands that never
// touch AWS never load credentials.
type Clients struct {
	opts Options

	once sync.Once
	cfg  aws.Config
	err  error
}

// NewClients creates a lazy client factory
func NewClients(opts Options) *Clients {
	return &Clients{opts: opts}
}

// Config returns the loaded AWS config
func (c *Clients) Config(ctx context.Context) (aws.Config, error) {
	c.once.Do(func() {
		c.cfg, c.err = loadConfig(ctx, c.opts)
	})
	return c.cfg, c.err
}

func (c *Clients) SecretsManager(ctx context.Context) (SecretsManagerAPI, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

func (c *Clients) S3(ctx context.Context) (S3API, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = c.opts.Endpoint != "" // Required for LocalStack
	}), nil
}

func (c *Clients) SNS(ctx context.Context) (SNSAPI, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg), nil
}

func (c *Clients) SQS(ctx context.Context) (SQSAPI, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

func loadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	loaders := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loaders = append(loaders, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	if opts.Endpoint != "" {
		ui.Debug("Using AWS endpoint override %s", opts.Endpoint)
		region := opts.Region
		loaders = append(loaders, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, r string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:           opts.Endpoint,
					SigningRegion: region,
				}, nil
			})))
		if opts.Profile == "" {
			loaders = append(loaders, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("test", "test", "")))
		}
	}

	return awsconfig.LoadDefaultConfig(ctx, loaders...)
}
