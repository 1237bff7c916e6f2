package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"triad/internal/config"
	"triad/internal/fileutil"
	"triad/internal/services"
)

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store publishes artifacts to an S3-compatible bucket. Objects at or above
// the part size go through multipart upload; each part is retried on its own
// so a transient failure does not resend finished parts.
type S3Store struct {
	client       s3API
	presign      presigner
	bucket       string
	partSize     int64
	partAttempts int
	baseDelay    time.Duration
}

// NewS3Store builds an S3 client from the storage configuration. Explicit
// access keys win over the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg *config.Config) (*S3Store, error) {
	sc := cfg.Storage
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(sc.S3Region)}
	if sc.S3AccessKeyID != "" && sc.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.S3AccessKeyID, sc.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.KindConfiguration, "", "s3 store", "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = sc.S3PathStyle
		if sc.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.S3Endpoint)
		}
	})
	return newS3Store(client, s3.NewPresignClient(client), cfg), nil
}

func newS3Store(client s3API, p presigner, cfg *config.Config) *S3Store {
	return &S3Store{
		client:       client,
		presign:      p,
		bucket:       cfg.Storage.S3Bucket,
		partSize:     int64(cfg.Storage.PartSizeMiB) << 20,
		partAttempts: max(1, cfg.Storage.RetryAttempts),
		baseDelay:    time.Duration(cfg.Storage.RetryBaseDelayMS) * time.Millisecond,
	}
}

// Backend implements ObjectStore.
func (s *S3Store) Backend() string { return config.StorageS3 }

// Put implements ObjectStore.
func (s *S3Store) Put(ctx context.Context, key, localPath, contentType string) (Object, error) {
	if !validKey(key) {
		return Object{}, services.Wrap(services.KindValidation, "", "put object", "invalid object key", nil)
	}
	hash, size, err := fileutil.HashFile(localPath)
	if err != nil {
		return Object{}, services.Wrap(services.KindStorage, "", "put object", "read artifact", err)
	}
	file, err := os.Open(localPath)
	if err != nil {
		return Object{}, services.Wrap(services.KindStorage, "", "put object", "open artifact", err)
	}
	defer file.Close()

	if size < s.partSize {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          io.NewSectionReader(file, 0, size),
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(contentType),
		})
		if err != nil {
			return Object{}, classifyS3Error("put object", err)
		}
	} else if err := s.putMultipart(ctx, key, file, size, contentType); err != nil {
		return Object{}, err
	}
	return Object{
		Key:     key,
		Locator: "s3://" + s.bucket + "/" + key,
		Size:    size,
		Hash:    hash,
	}, nil
}

func (s *S3Store) putMultipart(ctx context.Context, key string, file io.ReaderAt, size int64, contentType string) (err error) {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return classifyS3Error("create multipart upload", err)
	}
	uploadID := aws.ToString(created.UploadId)

	defer func() {
		if err == nil {
			return
		}
		// Abort with a fresh context so a cancelled caller still frees the parts.
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_, _ = s.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
	}()

	var parts []types.CompletedPart
	for offset, number := int64(0), int32(1); offset < size; offset, number = offset+s.partSize, number+1 {
		length := min(s.partSize, size-offset)
		var etag *string
		err = retry(ctx, s.partAttempts, s.baseDelay, func() error {
			out, perr := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(key),
				UploadId:      aws.String(uploadID),
				PartNumber:    aws.Int32(number),
				Body:          io.NewSectionReader(file, offset, length),
				ContentLength: aws.Int64(length),
			})
			if perr != nil {
				return classifyS3Error(fmt.Sprintf("upload part %d", number), perr)
			}
			etag = out.ETag
			return nil
		})
		if err != nil {
			return err
		}
		parts = append(parts, types.CompletedPart{ETag: etag, PartNumber: aws.Int32(number)})
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return classifyS3Error("complete multipart upload", err)
	}
	return nil
}

// SignedURL implements ObjectStore.
func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, classifyS3Error("presign", err)
	}
	return req.URL, time.Now().Add(ttl), nil
}

// permanentS3Codes are API errors another attempt cannot fix.
var permanentS3Codes = map[string]struct{}{
	"AccessDenied":                 {},
	"InvalidAccessKeyId":           {},
	"SignatureDoesNotMatch":        {},
	"NoSuchBucket":                 {},
	"InvalidBucketName":            {},
	"AuthorizationHeaderMalformed": {},
}

func classifyS3Error(operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := permanentS3Codes[apiErr.ErrorCode()]; ok {
			return services.WithFields(
				services.Wrap(services.KindConfiguration, "", operation, strings.ToLower(apiErr.ErrorCode()), err),
				map[string]any{"s3_error_code": apiErr.ErrorCode()},
			)
		}
		return services.WithFields(
			services.Wrap(services.KindStorage, "", operation, apiErr.ErrorMessage(), err),
			map[string]any{"s3_error_code": apiErr.ErrorCode()},
		)
	}
	return services.Wrap(services.KindStorage, "", operation, "", err)
}
