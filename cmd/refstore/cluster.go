package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andreyvit/refstore"
	"github.com/andreyvit/refstore/clusterfs"
	clusterminio "github.com/andreyvit/refstore/clusterfs/minio"
	clusters3 "github.com/andreyvit/refstore/clusterfs/s3"
)

// openCluster connects to the cluster storage backend named by cfg.
func openCluster(ctx context.Context, cfg refstore.ClusterConfig) (clusterfs.FS, error) {
	switch cfg.Backend {
	case refstore.BackendLocal:
		return clusterfs.NewLocal(cfg.Root), nil

	case refstore.BackendS3:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		if cfg.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
		var opt clusters3.Options
		if cfg.LedgerTable != "" {
			opt.Ledger = dynamodb.NewFromConfig(awsCfg)
			opt.LedgerTable = cfg.LedgerTable
		}
		return clusters3.New(client, cfg.Bucket, cfg.Prefix, opt), nil

	case refstore.BackendMinio:
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return clusterminio.New(client, cfg.Bucket, cfg.Prefix), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
