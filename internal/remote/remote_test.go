package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type stubSSM struct {
	out  *ssm.GetParameterOutput
	err  error
	seen *ssm.GetParameterInput
}

func (s *stubSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	s.seen = in
	return s.out, s.err
}

func param(v *string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: v}}
}

func TestParamStore_Get(t *testing.T) {
	stub := &stubSSM{out: param(aws.String("  https://api.saddlebagexchange.com/api  \n"))}
	p := &ParamStore{api: stub}

	got, err := p.Get(context.Background(), "/saddlebag/web/api-url")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "https://api.saddlebagexchange.com/api" {
		t.Fatalf("value = %q", got)
	}
	if aws.ToString(stub.seen.Name) != "/saddlebag/web/api-url" || !aws.ToBool(stub.seen.WithDecryption) {
		t.Fatalf("request = %+v", stub.seen)
	}
}

func TestParamStore_Errors(t *testing.T) {
	tests := []struct {
		name string
		stub *stubSSM
	}{
		{"api error", &stubSSM{err: errors.New("AccessDenied")}},
		{"nil parameter", &stubSSM{out: &ssm.GetParameterOutput{}}},
		{"nil value", &stubSSM{out: param(nil)}},
		{"blank value", &stubSSM{out: param(aws.String("   "))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&ParamStore{api: tt.stub}).Get(context.Background(), "/p")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "/p") {
				t.Fatalf("error %q should name the parameter", err)
			}
		})
	}
}

type stubS3 struct {
	body        string
	contentType *string
	err         error
	closed      bool
}

type trackingBody struct {
	io.Reader
	s *stubS3
}

func (b trackingBody) Close() error { b.s.closed = true; return nil }

func (s *stubS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &s3.GetObjectOutput{
		Body:        trackingBody{Reader: bytes.NewReader([]byte(s.body)), s: s},
		ContentType: s.contentType,
	}, nil
}

func TestObjectStore_Get(t *testing.T) {
	stub := &stubS3{body: `{"openapi":"3.0.0"}`, contentType: aws.String("application/json")}
	obj, err := newObjectStore(stub, 0).Get(context.Background(), "saddlebag-docs", "openapi-spec.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Body) != `{"openapi":"3.0.0"}` || obj.ContentType != "application/json" {
		t.Fatalf("object = %q %q", obj.Body, obj.ContentType)
	}
	if !stub.closed {
		t.Fatal("body not closed")
	}
}

func TestObjectStore_SizeLimit(t *testing.T) {
	store := newObjectStore(&stubS3{body: strings.Repeat("x", 11)}, 10)
	if _, err := store.Get(context.Background(), "b", "k"); err == nil || !strings.Contains(err.Error(), "size limit") {
		t.Fatalf("err = %v", err)
	}

	store = newObjectStore(&stubS3{body: strings.Repeat("x", 10)}, 10)
	if _, err := store.Get(context.Background(), "b", "k"); err != nil {
		t.Fatalf("exactly at limit: %v", err)
	}
}

func TestObjectStore_APIError(t *testing.T) {
	_, err := newObjectStore(&stubS3{err: errors.New("NoSuchKey")}, 0).Get(context.Background(), "b", "k")
	if err == nil || !strings.Contains(err.Error(), "s3://b/k") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewObjectStore_DefaultLimit(t *testing.T) {
	if s := newObjectStore(&stubS3{}, -1); s.maxSize != DefaultMaxObjectSize {
		t.Fatalf("maxSize = %d", s.maxSize)
	}
}
