package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

type fakeSecretsManager struct {
	values map[string]string
	err    error
	asked  []string
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = append(f.asked, aws.ToString(in.SecretId))
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "not found"}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func managerBackend(f *fakeSecretsManager) *SecretsManagerBackend {
	return NewSecretsManagerBackend(func(context.Context) (SecretsManagerAPI, error) { return f, nil }, "envctl", "shop").(*SecretsManagerBackend)
}

func TestSecretsManagerBackend_SecretID(t *testing.T) {
	b := managerBackend(&fakeSecretsManager{})

	tests := []struct {
		name    string
		ref     secret.Reference
		want    string
		wantErr bool
	}{
		{"project default", secret.Reference{Name: "db_url"}, "envctl/shop/db_url", false},
		{"shared scope", secret.Reference{Name: "db_url", Locator: map[string]string{"scope": "shared"}}, "envctl/shared/db_url", false},
		{"name override", secret.Reference{Name: "db_url", Locator: map[string]string{"name": "postgres/main"}}, "envctl/shop/postgres/main", false},
		{"bad scope", secret.Reference{Name: "db_url", Locator: map[string]string{"scope": "global"}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.SecretID(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SecretID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SecretID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecretsManagerBackend_Fetch(t *testing.T) {
	f := &fakeSecretsManager{values: map[string]string{"envctl/shop/db_url": "postgres://u:p@db/app"}}
	b := managerBackend(f)

	got, err := b.Fetch(context.Background(), secret.Reference{Name: "db_url"})
	if err != nil {
		t.Fatalf("Fetch() returned error: %v", err)
	}
	if string(got) != "postgres://u:p@db/app" {
		t.Errorf("unexpected value")
	}

	_, err = b.Fetch(context.Background(), secret.Reference{Name: "missing"})
	if failure.KindOf(err) != failure.KindPrecondition {
		t.Errorf("expected precondition for missing secret, got %v", err)
	}
}

func TestSecretsManagerBackend_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException"}, failure.KindAuth},
		{"deadline", context.DeadlineExceeded, failure.KindTimeout},
		{"network", errors.New("dial tcp: connection refused"), failure.KindUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := managerBackend(&fakeSecretsManager{err: tt.err})
			_, err := b.Fetch(context.Background(), secret.Reference{Name: "db_url"})
			if got := failure.KindOf(err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s (err: %v)", got, tt.want, err)
			}
		})
	}
}

type fakeS3 struct {
	keys []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_Put(t *testing.T) {
	f := &fakeS3{}
	store := NewS3Store(func(context.Context) (S3API, error) { return f, nil }, "audit")

	if err := store.Put(context.Background(), "runs/report.json", []byte("{}"), "application/json"); err != nil {
		t.Fatalf("Put() returned error: %v", err)
	}
	if len(f.keys) != 1 || f.keys[0] != "audit/runs/report.json" {
		t.Errorf("unexpected uploads: %v", f.keys)
	}
}

type fakeSNS struct{ messages []string }

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.messages = append(f.messages, aws.ToString(in.Message))
	return &sns.PublishOutput{}, nil
}

type fakeSQS struct{ messages []string }

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.messages = append(f.messages, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func TestNotifier_Notify(t *testing.T) {
	snsFake, sqsFake := &fakeSNS{}, &fakeSQS{}
	n := NewNotifier(
		func(context.Context) (SNSAPI, error) { return snsFake, nil },
		func(context.Context) (SQSAPI, error) { return sqsFake, nil },
	)
	channels := policy.Notify{SNSTopicARN: "arn:aws:sns:us-east-1:1:envctl", SQSQueueURL: "https://sqs.local/1/envctl"}

	summary := ports.Summary{RunID: "r1", Operation: "apply", Scope: "dev", Status: "ok", Keys: []string{"LOG_LEVEL"}}
	if err := n.Notify(context.Background(), channels, summary); err != nil {
		t.Fatalf("Notify() returned error: %v", err)
	}

	if len(snsFake.messages) != 1 || len(sqsFake.messages) != 1 {
		t.Fatalf("expected one message per channel, got sns=%d sqs=%d", len(snsFake.messages), len(sqsFake.messages))
	}
	var got ports.Summary
	if err := json.Unmarshal([]byte(sqsFake.messages[0]), &got); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if got.RunID != "r1" || got.Operation != "apply" {
		t.Errorf("unexpected summary: %+v", got)
	}
}

func TestNotifier_SkipsUnconfiguredChannels(t *testing.T) {
	n := NewNotifier(
		func(context.Context) (SNSAPI, error) { t.Fatal("sns client must not be created"); return nil, nil },
		func(context.Context) (SQSAPI, error) { t.Fatal("sqs client must not be created"); return nil, nil },
	)
	if err := n.Notify(context.Background(), policy.Notify{}, ports.Summary{}); err != nil {
		t.Fatalf("Notify() returned error: %v", err)
	}
}
