package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/hupe1980/compcache/blobstore"
	miniostore "github.com/hupe1980/compcache/blobstore/minio"
	redisstore "github.com/hupe1980/compcache/blobstore/redis"
	s3store "github.com/hupe1980/compcache/blobstore/s3"
)

// storageFromConfig builds the remote tier from the configured
// backend. It returns nil for the local-only setup.
func storageFromConfig(ctx context.Context) (blobstore.Store, error) {
	var (
		inner blobstore.Store
		err   error
	)

	backend := viper.GetString("backend")
	switch backend {
	case "", "none":
		return nil, nil
	case "local":
		dir := viper.GetString("local_dir")
		if dir == "" {
			return nil, fmt.Errorf("backend %q requires local_dir", backend)
		}

		inner, err = blobstore.NewLocalStore(dir)
		if err != nil {
			return nil, err
		}
	case "s3":
		inner, err = s3FromConfig(ctx)
		if err != nil {
			return nil, err
		}
	case "minio":
		inner, err = minioFromConfig()
		if err != nil {
			return nil, err
		}
	case "redis":
		inner, err = redisFromConfig()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}

	policy := blobstore.DefaultPolicy()
	if n := viper.GetInt("remote_attempts"); n > 0 {
		policy.MaxAttempts = n
	}

	if d := viper.GetDuration("remote_timeout"); d > 0 {
		policy.Timeout = d
	}

	return blobstore.WithRetry(inner, policy), nil
}

func s3FromConfig(ctx context.Context) (blobstore.Store, error) {
	bucket := viper.GetString("bucket")
	if bucket == "" {
		return nil, fmt.Errorf("backend \"s3\" requires bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := viper.GetString("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if endpoint := viper.GetString("endpoint"); endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})

	return s3store.NewStore(client, bucket, viper.GetString("prefix")), nil
}

func minioFromConfig() (blobstore.Store, error) {
	endpoint := viper.GetString("endpoint")
	bucket := viper.GetString("bucket")

	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("backend \"minio\" requires endpoint and bucket")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("access_key"), viper.GetString("secret_key"), ""),
		Secure: viper.GetBool("use_tls"),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return miniostore.NewStore(client, bucket, viper.GetString("prefix")), nil
}

func redisFromConfig() (blobstore.Store, error) {
	addr := viper.GetString("redis_addr")
	if addr == "" {
		return nil, fmt.Errorf("backend \"redis\" requires redis_addr")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: viper.GetString("redis_password"),
		DB:       viper.GetInt("redis_db"),
	})

	return redisstore.NewStore(client, viper.GetString("prefix"), viper.GetDuration("redis_ttl")), nil
}
