package wiring

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vivekkundariya/envctl/internal/application/commands"
	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/application/queries"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/config"
	"github.com/vivekkundariya/envctl/internal/infrastructure/adapters"
	"github.com/vivekkundariya/envctl/internal/infrastructure/adapters/fileinject"
	"github.com/vivekkundariya/envctl/internal/infrastructure/aws"
	infraconfig "github.com/vivekkundariya/envctl/internal/infrastructure/config"
	"github.com/vivekkundariya/envctl/internal/infrastructure/evidence"
	"github.com/vivekkundariya/envctl/internal/infrastructure/health"
	"github.com/vivekkundariya/envctl/internal/infrastructure/lock"
	"github.com/vivekkundariya/envctl/internal/infrastructure/secrets"
	"github.com/vivekkundariya/envctl/internal/infrastructure/ssh"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// Options select the root and evidence location of one invocation
type Options struct {
	Root string

	// Out is a local directory or s3://bucket/prefix; empty uses the
	// global evidence_dir
	Out string

	Global *config.GlobalConfig
}

// Container holds all dependencies (Dependency Injection Container)
// This follows the Dependency Inversion Principle
type Container struct {
	// Repositories
	ContractRepo ports.ContractRepository

	// Infrastructure
	Secrets  *secrets.Registry
	Adapters ports.AdapterRegistry
	Locker   ports.Locker
	Evidence ports.EvidenceWriter
	Notifier ports.Notifier
	AWS      *aws.Clients

	// Engine
	Builder  *desired.Builder
	Recorder *report.Recorder

	// Command Handlers
	ApplyCommandHandler        *commands.ApplyCommandHandler
	RotateCommandHandler       *commands.RotateCommandHandler
	DecommissionCommandHandler *commands.DecommissionCommandHandler

	// Query Handlers
	PlanQueryHandler   *queries.PlanQueryHandler
	DriftQueryHandler  *queries.DriftQueryHandler
	VerifyQueryHandler *queries.VerifyQueryHandler
}

// NewContainer creates a new dependency injection container
func NewContainer(opts Options) (*Container, error) {
	global := opts.Global
	if global == nil {
		global = config.DefaultGlobalConfig()
	}
	root := opts.Root

	// Initialize repositories
	contractRepo := infraconfig.NewContractRepository(root, global.IAMKeyPatterns)

	// Initialize AWS clients (loaded lazily on first use)
	clients := aws.NewClients(aws.Options{
		Region:   global.AWS.Region,
		Profile:  global.AWS.Profile,
		Endpoint: global.AWS.Endpoint,
	})

	// Initialize secret backends
	secretRegistry := secrets.NewRegistry(global.Timeouts.SecretFetch,
		secrets.NewMockBackend(root),
		secrets.NewEnvBackend(os.LookupEnv),
		secrets.NewFileBackend(root),
		aws.NewSecretsManagerBackend(clients.SecretsManager, global.AWS.SecretsPrefix, global.Project),
	)

	// Initialize provider adapters
	dialer := fileinject.NewSSHDialer(ssh.NewDialer(), fileinject.SSHDefaults{
		User:           global.SSH.User,
		KeyPath:        config.ExpandPath(global.SSH.KeyPath),
		KnownHostsPath: config.ExpandPath(global.SSH.KnownHostsPath),
		ConnectTimeout: global.Timeouts.SSHConnect,
		CommandTimeout: global.Timeouts.SSHCommand,
	})
	adapterRegistry := adapters.NewRegistry(root, dialer)

	// Initialize evidence, notifications and locks
	evidenceWriter, err := newEvidenceWriter(opts.Out, root, global, clients)
	if err != nil {
		return nil, err
	}
	notifier := aws.NewNotifier(clients.SNS, clients.SQS)
	locker := lock.NewFileLocker(filepath.Join(root, config.StateDir, "locks"))

	builder := desired.NewBuilder(contractRepo, secretRegistry, adapterRegistry)
	recorder := report.NewRecorder(evidenceWriter, notifier)

	return &Container{
		ContractRepo:               contractRepo,
		Secrets:                    secretRegistry,
		Adapters:                   adapterRegistry,
		Locker:                     locker,
		Evidence:                   evidenceWriter,
		Notifier:                   notifier,
		AWS:                        clients,
		Builder:                    builder,
		Recorder:                   recorder,
		ApplyCommandHandler:        commands.NewApplyCommandHandler(builder, locker, recorder, health.NewChecker(global.Timeouts.Health)),
		RotateCommandHandler:       commands.NewRotateCommandHandler(builder, locker, recorder, secretRegistry),
		DecommissionCommandHandler: commands.NewDecommissionCommandHandler(builder, locker, recorder),
		PlanQueryHandler:           queries.NewPlanQueryHandler(builder, recorder),
		DriftQueryHandler:          queries.NewDriftQueryHandler(builder, recorder),
		VerifyQueryHandler:         queries.NewVerifyQueryHandler(builder, recorder),
	}, nil
}

func newEvidenceWriter(out, root string, global *config.GlobalConfig, clients *aws.Clients) (ports.EvidenceWriter, error) {
	if strings.HasPrefix(out, evidence.S3Scheme) {
		bucket, prefix, err := evidence.ParseS3(out)
		if err != nil {
			return nil, err
		}
		ui.Debug("Evidence goes to S3 bucket %s", bucket)
		return evidence.NewS3Writer(aws.NewS3Store(clients.S3, bucket), prefix), nil
	}

	// --out is relative to the working directory, evidence_dir to the root
	dir := config.ExpandPath(out)
	if dir == "" {
		dir = config.ExpandPath(global.EvidenceDir)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
	}
	return evidence.NewLocalWriter(dir), nil
}
