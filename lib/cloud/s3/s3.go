// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package s3 implements the cloud.ObjectStore interface against an S3
// bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"github.com/yuanfeng0905/mrjob/lib/cloud"
)

// Config is the connection configuration for one S3 bucket.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	// Endpoint overrides the SDK's default S3 endpoint. Used in
	// tests and for S3-compatible services.
	Endpoint     string
	UsePathStyle bool
}

// Store is a cloud.ObjectStore backed by an S3 bucket.
type Store struct {
	config Config
	logger logrus.FieldLogger
	client *s3.Client
}

// New returns a Store for the configured bucket.
func New(ctx context.Context, config Config, logger logrus.FieldLogger) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.UsePathStyle
	})
	return &Store{config: config, logger: logger, client: client}, nil
}

// Get implements cloud.ObjectStore.
func (store *Store) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	resp, err := store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, time.Time{}, cloud.ErrNotExist
		}
		return nil, time.Time{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, aws.ToTime(resp.LastModified), nil
}

// Put implements cloud.ObjectStore.
func (store *Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(store.config.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// List implements cloud.ObjectStore.
func (store *Store) List(ctx context.Context, prefix string) ([]cloud.ObjectInfo, error) {
	var infos []cloud.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(store.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(store.config.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			infos = append(infos, cloud.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return infos, nil
}

// DeletePrefix implements cloud.ObjectStore.
func (store *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	// DeleteObjects accepts at most 1000 keys per call.
	for len(infos) > 0 {
		batch := infos
		if len(batch) > 1000 {
			batch = batch[:1000]
		}
		infos = infos[len(batch):]

		var ids []s3types.ObjectIdentifier
		for _, info := range batch {
			ids = append(ids, s3types.ObjectIdentifier{Key: aws.String(info.Key)})
		}
		_, err := store.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(store.config.Bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, err
		}
		deleted += len(batch)
	}
	if deleted > 0 {
		store.logger.WithFields(logrus.Fields{
			"Bucket": store.config.Bucket,
			"Prefix": prefix,
			"Count":  deleted,
		}).Info("deleted objects")
	}
	return deleted, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
