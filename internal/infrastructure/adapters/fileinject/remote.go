package fileinject

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
	"github.com/vivekkundariya/envctl/internal/infrastructure/ssh"
	"github.com/vivekkundariya/envctl/internal/ui"
	"golang.org/x/sync/errgroup"
)

// Divergent marks a key whose value differs across hosts
const Divergent = "divergent"

const (
	defaultCommandTimeout = 60 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// HostSession is a connected remote host
type HostSession interface {
	ReadFile(ctx context.Context, path string) ([]byte, bool, error)
	WriteFile(ctx context.Context, path string, data []byte, mode string) error
	Run(ctx context.Context, cmd string, stdin []byte) (string, error)
	Close() error
}

// HostDialer opens sessions to policy hosts
type HostDialer interface {
	Open(ctx context.Context, host policy.Host, cfg policy.SSH) (HostSession, error)
}

// SSHDefaults fill in what a target's ssh block leaves unset
type SSHDefaults struct {
	User           string
	KeyPath        string
	KnownHostsPath string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// SSHDialer opens real SSH sessions
type SSHDialer struct {
	dialer   ssh.Dialer
	defaults SSHDefaults
}

// NewSSHDialer creates a HostDialer over dialer
func NewSSHDialer(dialer ssh.Dialer, defaults SSHDefaults) *SSHDialer {
	return &SSHDialer{dialer: dialer, defaults: defaults}
}

func (d *SSHDialer) Open(ctx context.Context, host policy.Host, cfg policy.SSH) (HostSession, error) {
	t := ssh.Target{
		Address:               host.Address,
		Port:                  host.Port,
		User:                  firstNonEmpty(host.User, d.defaults.User),
		KeyPath:               firstNonEmpty(cfg.KeyPath, d.defaults.KeyPath),
		KnownHostsPath:        firstNonEmpty(cfg.KnownHostsPath, d.defaults.KnownHostsPath),
		InsecureIgnoreHostKey: cfg.InsecureIgnoreHostKey,
		ConnectTimeout:        cfg.ConnectTimeout,
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = d.defaults.ConnectTimeout
	}
	return ssh.Open(ctx, d.dialer, t)
}

// CommandTimeout returns the per-command bound for cfg
func (d *SSHDialer) CommandTimeout(cfg policy.SSH) time.Duration {
	if cfg.CommandTimeout > 0 {
		return cfg.CommandTimeout
	}
	return d.defaults.CommandTimeout
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func hostName(h policy.Host) string {
	if h.Port != "" {
		return h.Address + ":" + h.Port
	}
	return h.Address
}

func (a *Adapter) timeouts(inj policy.Injection) (connect, command time.Duration) {
	connect, command = inj.SSH.ConnectTimeout, inj.SSH.CommandTimeout
	if d, ok := a.dialer.(*SSHDialer); ok {
		if connect <= 0 {
			connect = d.defaults.ConnectTimeout
		}
		command = d.CommandTimeout(inj.SSH)
	}
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	if command <= 0 {
		command = defaultCommandTimeout
	}
	return connect, command
}

// hostOutcome is what one host goroutine reports back
type hostOutcome struct {
	result ports.HostResult
	steps  []ports.Step
	err    error
	file   envFile
	raw    []byte
}

func (o *hostOutcome) record(name string, status ports.StepStatus, detail string) {
	o.steps = append(o.steps, ports.Step{
		Name:   name,
		Host:   o.result.Host,
		Status: status,
		Detail: detail,
		At:     time.Now().UTC(),
	})
}

// fanOut runs fn on every host concurrently, each under its own timeout.
// All hosts run to completion; results keep host order.
func (a *Adapter) fanOut(ctx context.Context, target ports.DeployTarget, steps int, fn func(ctx context.Context, s HostSession, o *hostOutcome, command time.Duration) error) []*hostOutcome {
	inj := a.injection(target)
	connect, command := a.timeouts(inj)
	budget := connect + time.Duration(steps)*command

	outcomes := make([]*hostOutcome, len(inj.Hosts))
	var g errgroup.Group
	for i, h := range inj.Hosts {
		o := &hostOutcome{result: ports.HostResult{Host: hostName(h)}}
		outcomes[i] = o
		g.Go(func() error {
			start := time.Now()
			hctx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()

			o.err = a.runHost(hctx, h, inj.SSH, o, command, fn)
			o.result.Duration = time.Since(start)
			if o.err != nil {
				o.err = failure.Classify(o.err)
				o.result.Status = ports.StepFailed
				o.result.Error = o.err.Error()
				o.result.Kind = string(failure.KindOf(o.err))
			} else {
				o.result.Status = ports.StepOK
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (a *Adapter) runHost(ctx context.Context, h policy.Host, cfg policy.SSH, o *hostOutcome, command time.Duration, fn func(context.Context, HostSession, *hostOutcome, time.Duration) error) error {
	s, err := a.dialer.Open(ctx, h, cfg)
	if err != nil {
		o.record("connect", ports.StepFailed, err.Error())
		return err
	}
	defer s.Close()
	o.record("connect", ports.StepOK, "")
	return fn(ctx, s, o, command)
}

func step(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(sctx)
}

// hostsError summarizes failed hosts. A single-host target reports the
// host's own error kind.
func hostsError(outcomes []*hostOutcome) error {
	var failed []string
	var first error
	for _, o := range outcomes {
		if o.err != nil {
			failed = append(failed, o.result.Host+" ("+o.result.Kind+")")
			if first == nil {
				first = o.err
			}
		}
	}
	if len(failed) == 0 {
		return nil
	}
	if len(outcomes) == 1 {
		return first
	}
	err := errors.Newf("%d of %d hosts failed: %s", len(failed), len(outcomes), strings.Join(failed, ", "))
	err = errors.WithHint(err, "see the per-host results in the execution log; healthy hosts were updated")
	return failure.Mark(err, failure.ErrPartialHosts)
}

func (a *Adapter) readRemote(ctx context.Context, target ports.DeployTarget, path string) (*envstate.DeployedState, error) {
	outcomes := a.fanOut(ctx, target, 1, func(ctx context.Context, s HostSession, o *hostOutcome, command time.Duration) error {
		return step(ctx, command, func(ctx context.Context) error {
			data, found, err := s.ReadFile(ctx, path)
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			file, err := parseEnv(data)
			if err != nil {
				return failure.Validation("fix or remove "+path+" on "+o.result.Host, "%s on %s: %v", path, o.result.Host, err)
			}
			o.file, o.raw = file, data
			return nil
		})
	})
	if err := hostsError(outcomes); err != nil {
		return nil, err
	}

	state := envstate.NewDeployedState(target.Scope)
	state.Metadata["path"] = path
	state.Metadata["hosts"] = fmt.Sprint(len(outcomes))

	perHost := make([]map[string]string, 0, len(outcomes))
	union := map[string]bool{}
	for _, o := range outcomes {
		if o.file == nil {
			state.Metadata["host:"+o.result.Host] = "absent"
			perHost = append(perHost, map[string]string{})
			continue
		}
		state.Exists = true
		state.Metadata["host:"+o.result.Host] = secret.HashValue(o.raw)
		h := o.file.hashes()
		for k := range h {
			union[k] = true
		}
		perHost = append(perHost, h)
	}
	if !state.Exists {
		return state, nil
	}

	var divergent []string
	for k := range union {
		hash, same := "", true
		for i, h := range perHost {
			v, ok := h[k]
			if !ok || (i > 0 && v != hash) {
				same = false
				break
			}
			hash = v
		}
		if same {
			state.Hashes[k] = hash
		} else {
			state.Hashes[k] = Divergent
			divergent = append(divergent, k)
		}
	}
	if len(divergent) > 0 {
		sort.Strings(divergent)
		state.Metadata["divergent_keys"] = strings.Join(divergent, ",")
		ui.Warnf("Hosts disagree on %s", strings.Join(divergent, ", "))
	}
	return state, nil
}

func (a *Adapter) injectRemote(ctx context.Context, target ports.DeployTarget, path, mode string, set []envstate.Entry, del []string, log *ports.ExecutionLog) error {
	inj := a.injection(target)
	steps := len(inj.PreCommands) + len(inj.PostCommands) + 3

	outcomes := a.fanOut(ctx, target, steps, func(ctx context.Context, s HostSession, o *hostOutcome, command time.Duration) error {
		for _, cmd := range inj.PreCommands {
			if err := step(ctx, command, func(ctx context.Context) error { _, err := s.Run(ctx, cmd, nil); return err }); err != nil {
				o.record("pre_command", ports.StepFailed, err.Error())
				return err
			}
			o.record("pre_command", ports.StepOK, cmd)
		}

		file := envFile{}
		err := step(ctx, command, func(ctx context.Context) error {
			data, found, err := s.ReadFile(ctx, path)
			if err != nil || !found {
				return err
			}
			if file, err = parseEnv(data); err != nil {
				return failure.Validation("fix or remove "+path+" on "+o.result.Host, "%s on %s: %v", path, o.result.Host, err)
			}
			return nil
		})
		if err != nil {
			o.record("read", ports.StepFailed, err.Error())
			return err
		}
		o.record("read", ports.StepOK, path)

		if err := file.merge(set, del); err != nil {
			o.record("merge", ports.StepFailed, err.Error())
			return err
		}
		content, err := file.render()
		if err != nil {
			o.record("render", ports.StepFailed, err.Error())
			return err
		}

		if err := step(ctx, command, func(ctx context.Context) error { return s.WriteFile(ctx, path, content, mode) }); err != nil {
			o.record("write", ports.StepFailed, err.Error())
			return err
		}
		o.record("write", ports.StepOK, path)

		sidecar, err := newMeta(target.Scope, a.Name(), file, content, a.now())
		if err != nil {
			return err
		}
		if err := step(ctx, command, func(ctx context.Context) error { return s.WriteFile(ctx, path+MetaSuffix, sidecar, "0600") }); err != nil {
			o.record("write_sidecar", ports.StepFailed, err.Error())
			return err
		}
		o.record("write_sidecar", ports.StepOK, path+MetaSuffix)

		for _, cmd := range inj.PostCommands {
			if err := step(ctx, command, func(ctx context.Context) error { _, err := s.Run(ctx, cmd, nil); return err }); err != nil {
				o.record("post_command", ports.StepFailed, err.Error())
				return err
			}
			o.record("post_command", ports.StepOK, cmd)
		}
		return nil
	})

	for _, o := range outcomes {
		log.Steps = append(log.Steps, o.steps...)
		log.Hosts = append(log.Hosts, o.result)
		if o.err != nil {
			ui.Errorf("%s: %v", o.result.Host, o.err)
		} else {
			ui.SubStep("%s: injected %s", o.result.Host, path)
		}
	}
	return hostsError(outcomes)
}
