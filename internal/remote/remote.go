// Package remote reads deploy-time inputs from AWS: the upstream API base
// URL from an SSM parameter and the OpenAPI document from S3. Both clients
// sit behind one-method interfaces so tests can stub them.
package remote

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

// DefaultMaxObjectSize bounds what ObjectStore will read into memory.
const DefaultMaxObjectSize = 8 << 20

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoadConfig resolves credentials and region the default SDK way. An empty
// region leaves the environment's choice in place.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load AWS config")
	}
	return cfg, nil
}

type ParamStore struct {
	api ssmAPI
}

func NewParamStore(cfg aws.Config) *ParamStore {
	return &ParamStore{api: ssm.NewFromConfig(cfg)}
}

// Get returns the trimmed, decrypted value of name. A missing or blank value
// is an error.
func (p *ParamStore) Get(ctx context.Context, name string) (string, error) {
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

type Object struct {
	Body        []byte
	ContentType string
}

type ObjectStore struct {
	api     s3API
	maxSize int64
}

// NewObjectStore reads at most maxSize bytes per object; 0 means
// DefaultMaxObjectSize.
func NewObjectStore(cfg aws.Config, maxSize int64) *ObjectStore {
	return newObjectStore(s3.NewFromConfig(cfg), maxSize)
}

func newObjectStore(api s3API, maxSize int64) *ObjectStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxObjectSize
	}
	return &ObjectStore{api: api, maxSize: maxSize}
}

func (o *ObjectStore) Get(ctx context.Context, bucket, key string) (Object, error) {
	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Object{}, xerrors.Wrapf(err, "get s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, o.maxSize+1))
	if err != nil {
		return Object{}, xerrors.Wrapf(err, "read s3://%s/%s", bucket, key)
	}
	if int64(len(data)) > o.maxSize {
		return Object{}, xerrors.Newf("s3://%s/%s exceeds size limit (max %d bytes)", bucket, key, o.maxSize)
	}
	return Object{Body: data, ContentType: aws.ToString(out.ContentType)}, nil
}
