package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

// MockContractRepository is a mock implementation of ports.ContractRepository
type MockContractRepository struct {
	LoadFunc       func(scope envstate.Scope) (*ports.Skeleton, error)
	LoadPolicyFunc func() (*policy.Policy, error)
	RootDir        string

	// Track calls for assertions
	LoadCalls []envstate.Scope
}

func (m *MockContractRepository) Load(scope envstate.Scope) (*ports.Skeleton, error) {
	m.LoadCalls = append(m.LoadCalls, scope)
	if m.LoadFunc != nil {
		return m.LoadFunc(scope)
	}
	return nil, fmt.Errorf("Load not implemented")
}

func (m *MockContractRepository) LoadPolicy() (*policy.Policy, error) {
	if m.LoadPolicyFunc != nil {
		return m.LoadPolicyFunc()
	}
	return nil, fmt.Errorf("LoadPolicy not implemented")
}

func (m *MockContractRepository) Root() string {
	return m.RootDir
}

// MockSecretResolver is a mock implementation of ports.SecretRotator.
// Without ResolveFunc it serves Values by ref name. Regenerate replaces
// a value with the one in Regenerated, or reports false when none is set.
type MockSecretResolver struct {
	ResolveFunc    func(ctx context.Context, ref secret.Reference) (*secret.Handle, error)
	RegenerateFunc func(ctx context.Context, ref secret.Reference) (bool, error)
	Values         map[string]string
	Regenerated    map[string]string

	// Track calls
	ResolveCalls    []string
	RegenerateCalls []string
}

var _ ports.SecretRotator = (*MockSecretResolver)(nil)

func (m *MockSecretResolver) Regenerate(ctx context.Context, ref secret.Reference) (bool, error) {
	m.RegenerateCalls = append(m.RegenerateCalls, ref.Name)
	if m.RegenerateFunc != nil {
		return m.RegenerateFunc(ctx, ref)
	}
	v, ok := m.Regenerated[ref.Name]
	if !ok {
		return false, nil
	}
	m.Values[ref.Name] = v
	return true, nil
}

func (m *MockSecretResolver) Resolve(ctx context.Context, ref secret.Reference) (*secret.Handle, error) {
	m.ResolveCalls = append(m.ResolveCalls, ref.Name)
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, ref)
	}
	v, ok := m.Values[ref.Name]
	if !ok {
		return nil, fmt.Errorf("secret %s not found", ref.Name)
	}
	return secret.NewHandle(ref.Name, []byte(v)), nil
}

// SpyAdapter is an in-memory provider adapter that records every call.
// Deployed holds key -> hash and is updated by Apply.
type SpyAdapter struct {
	ProviderName string
	IsIAM        envstate.IAMPredicate
	Deployed     map[string]string

	ReadDeployedFunc func(ctx context.Context, target ports.DeployTarget) (*envstate.DeployedState, error)
	ApplyFunc        func(ctx context.Context, target ports.DeployTarget, changes envstate.Changeset, token *approval.Token) (*ports.ExecutionLog, error)

	mu sync.Mutex

	// Track calls
	ReadCalls     int
	ApplyCalls    []envstate.Changeset
	MutatingCalls []string
}

var _ ports.ProviderAdapter = (*SpyAdapter)(nil)

func (m *SpyAdapter) Name() string {
	if m.ProviderName == "" {
		return "spy"
	}
	return m.ProviderName
}

func (m *SpyAdapter) Plan(desired *envstate.DesiredState, deployed *envstate.DeployedState) (envstate.Diff, error) {
	return envstate.Compute(desired, deployed, m.IsIAM)
}

func (m *SpyAdapter) Verify(desired *envstate.DesiredState, deployed *envstate.DeployedState) (envstate.VerificationResult, error) {
	diff, err := envstate.Compute(desired, deployed, m.IsIAM)
	if err != nil {
		return envstate.VerificationResult{}, err
	}
	return envstate.VerifyDiff(diff), nil
}

func (m *SpyAdapter) ReadDeployed(ctx context.Context, target ports.DeployTarget) (*envstate.DeployedState, error) {
	m.mu.Lock()
	m.ReadCalls++
	m.mu.Unlock()
	if m.ReadDeployedFunc != nil {
		return m.ReadDeployedFunc(ctx, target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	state := envstate.NewDeployedState(target.Scope)
	for k, h := range m.Deployed {
		state.Hashes[k] = h
	}
	state.Exists = len(m.Deployed) > 0
	return state, nil
}

func (m *SpyAdapter) Apply(ctx context.Context, target ports.DeployTarget, changes envstate.Changeset, token *approval.Token) (*ports.ExecutionLog, error) {
	m.record("apply")
	m.mu.Lock()
	m.ApplyCalls = append(m.ApplyCalls, changes)
	m.mu.Unlock()
	if m.ApplyFunc != nil {
		return m.ApplyFunc(ctx, target, changes, token)
	}

	if err := token.Consume(approval.OpApply, target.Scope); err != nil {
		return nil, err
	}
	if target.Remote() {
		if err := token.RequireRemote(approval.OpApply, target.Scope); err != nil {
			return nil, err
		}
	}
	log := ports.NewExecutionLog("apply", m.Name(), target.Scope)
	if err := m.store(changes.Set, changes.Delete); err != nil {
		log.Record("write_state", "", ports.StepFailed, err.Error())
		return log, err
	}
	log.Keys = changes.Keys()
	log.Record("write_state", "", ports.StepOK, "")
	return log, nil
}

func (m *SpyAdapter) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MutatingCalls = append(m.MutatingCalls, call)
}

func (m *SpyAdapter) store(set []envstate.Entry, del []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Deployed == nil {
		m.Deployed = make(map[string]string)
	}
	for _, e := range set {
		h, err := e.Hash()
		if err != nil {
			return err
		}
		m.Deployed[e.Key] = h
	}
	for _, k := range del {
		delete(m.Deployed, k)
	}
	return nil
}

// SpyFullAdapter adds the rotate and decommission capabilities
type SpyFullAdapter struct {
	SpyAdapter

	// Track calls
	RotateCalls []string
}

var (
	_ ports.Rotator        = (*SpyFullAdapter)(nil)
	_ ports.Decommissioner = (*SpyFullAdapter)(nil)
)

func (m *SpyFullAdapter) Rotate(_ context.Context, target ports.DeployTarget, secretRef string, entries []envstate.Entry, token *approval.Token) (*ports.ExecutionLog, error) {
	m.record("rotate")
	m.RotateCalls = append(m.RotateCalls, secretRef)
	if err := token.Consume(approval.OpRotate, target.Scope); err != nil {
		return nil, err
	}
	log := ports.NewExecutionLog("rotate", m.Name(), target.Scope)
	if err := m.store(entries, nil); err != nil {
		return log, err
	}
	for _, e := range entries {
		log.Keys = append(log.Keys, e.Key)
	}
	log.Record("write_state", "", ports.StepOK, "")
	return log, nil
}

func (m *SpyFullAdapter) Decommission(_ context.Context, target ports.DeployTarget, token *approval.Token) (*ports.ExecutionLog, error) {
	m.record("decommission")
	if err := token.Consume(approval.OpDecommission, target.Scope); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Deployed = nil
	m.mu.Unlock()
	log := ports.NewExecutionLog("decommission", m.Name(), target.Scope)
	log.Record("remove_state", "", ports.StepOK, "")
	return log, nil
}

// MockAdapterRegistry returns Provider for every provider name
type MockAdapterRegistry struct {
	Provider ports.ProviderAdapter
	Err      error

	// Track calls
	AdapterCalls []string
}

func (m *MockAdapterRegistry) Adapter(provider string, _ envstate.IAMPredicate) (ports.ProviderAdapter, error) {
	m.AdapterCalls = append(m.AdapterCalls, provider)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Provider, nil
}

func (m *MockAdapterRegistry) Providers() []string {
	return []string{policy.ProviderFileInject, policy.ProviderMock}
}

// MockEvidenceWriter captures written records
type MockEvidenceWriter struct {
	WriteFunc func(ctx context.Context, run ports.EvidenceRun, records []ports.Record) (string, error)

	// Track calls
	Runs    []ports.EvidenceRun
	Records [][]ports.Record
}

func (m *MockEvidenceWriter) Write(ctx context.Context, run ports.EvidenceRun, records []ports.Record) (string, error) {
	m.Runs = append(m.Runs, run)
	m.Records = append(m.Records, records)
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, run, records)
	}
	return "mem://" + run.ID, nil
}

// Payload returns the payload named name from the last run
func (m *MockEvidenceWriter) Payload(name string) (any, bool) {
	if len(m.Records) == 0 {
		return nil, false
	}
	for _, r := range m.Records[len(m.Records)-1] {
		if r.Name == name {
			return r.Payload, true
		}
	}
	return nil, false
}

// MockNotifier records summaries
type MockNotifier struct {
	NotifyFunc func(ctx context.Context, channels policy.Notify, summary ports.Summary) error

	// Track calls
	Summaries []ports.Summary
}

func (m *MockNotifier) Notify(ctx context.Context, channels policy.Notify, summary ports.Summary) error {
	m.Summaries = append(m.Summaries, summary)
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, channels, summary)
	}
	return nil
}

// MockLocker is a mock implementation of ports.Locker
type MockLocker struct {
	AcquireFunc func(env, workload, provider string) (func() error, error)

	// Track calls
	AcquireCalls []string
	Released     int
}

func (m *MockLocker) Acquire(env, workload, provider string) (func() error, error) {
	m.AcquireCalls = append(m.AcquireCalls, env+"/"+workload+"/"+provider)
	if m.AcquireFunc != nil {
		return m.AcquireFunc(env, workload, provider)
	}
	return func() error {
		m.Released++
		return nil
	}, nil
}

// MockHealthChecker is a mock implementation of ports.HealthChecker
type MockHealthChecker struct {
	CheckFunc func(ctx context.Context, check policy.Health) error

	// Track calls
	CheckCalls []string
}

func (m *MockHealthChecker) Check(ctx context.Context, check policy.Health) error {
	m.CheckCalls = append(m.CheckCalls, check.URL)
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, check)
	}
	return nil
}
