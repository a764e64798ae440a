package aws

import (
	"context"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// SecretsManagerAPI is the subset of the Secrets Manager client we use
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerBackend resolves "manager" secrets from AWS Secrets Manager.
// Secret ids are <prefix>/<project|shared>/<name>.
type SecretsManagerBackend struct {
	client  func(ctx context.Context) (SecretsManagerAPI, error)
	prefix  string
	project string
}

// NewSecretsManagerBackend creates the backend over a client factory
func NewSecretsManagerBackend(client func(ctx context.Context) (SecretsManagerAPI, error), prefix, project string) ports.SecretBackend {
	return &SecretsManagerBackend{client: client, prefix: prefix, project: project}
}

func (b *SecretsManagerBackend) Name() secret.Backend { return secret.BackendManager }

// SecretID returns the Secrets Manager id for ref
func (b *SecretsManagerBackend) SecretID(ref secret.Reference) (string, error) {
	namespace := b.project
	switch scope := ref.Get("scope", secret.ScopeProject); scope {
	case secret.ScopeProject:
	case secret.ScopeShared:
		namespace = secret.ScopeShared
	default:
		return "", failure.Validation("use scope: project or scope: shared",
			"secret %s has unknown scope %q", ref.Name, scope)
	}
	return path.Join(b.prefix, namespace, ref.Get("name", ref.Name)), nil
}

// Fetch reads the secret value. The caller bounds ctx.
func (b *SecretsManagerBackend) Fetch(ctx context.Context, ref secret.Reference) ([]byte, error) {
	id, err := b.SecretID(ref)
	if err != nil {
		return nil, err
	}

	client, err := b.client(ctx)
	if err != nil {
		return nil, failure.Mark(errors.Wrap(err, "failed to load AWS config"), failure.ErrAuth)
	}

	ui.Debug("Fetching %s from Secrets Manager", id)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return nil, classifyAPIError(err, id)
	}

	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	if len(out.SecretBinary) > 0 {
		return out.SecretBinary, nil
	}
	return nil, failure.Precondition("store a value in "+id, "secret %s has no value", id)
}

func classifyAPIError(err error, id string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			return failure.Precondition("create "+id+" in Secrets Manager or fix the secret's name/scope",
				"secret %s not found", id)
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException",
			"InvalidSignatureException":
			return failure.Mark(errors.Wrapf(err, "access to %s denied", id), failure.ErrAuth)
		}
	}
	return failure.Classify(errors.Wrapf(err, "failed to fetch %s", id))
}
