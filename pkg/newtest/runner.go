package newtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/newtron-network/newtval/pkg/audit"
	"github.com/newtron-network/newtval/pkg/checks"
	"github.com/newtron-network/newtval/pkg/device"
	"github.com/newtron-network/newtval/pkg/ptf"
	"github.com/newtron-network/newtval/pkg/testbed"
	"github.com/newtron-network/newtval/pkg/util"
)

// Runner runs suites against one connected testbed.
type Runner struct {
	Env      *checks.Env
	Progress ProgressReporter
}

// NewRunner creates a runner over a connected environment.
func NewRunner(env *checks.Env) *Runner {
	return &Runner{Env: env}
}

// Run executes the cases of a suite in order and returns their results.
// A case whose requires did not all pass is skipped. Run stops early only
// when ctx is canceled; case failures never abort the suite.
func (r *Runner) Run(ctx context.Context, suite *Suite) ([]*CaseResult, error) {
	r.progress(func(p ProgressReporter) { p.SuiteStart(suite) })
	start := r.now()

	status := make(map[string]Status)
	var results []*CaseResult
	total := len(suite.Cases)
	defer audit.SetScope("", "")

	for i, spec := range suite.Cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if reason := checkRequires(spec, status); reason != "" {
			result := &CaseResult{
				Name:       spec.Name,
				Status:     StatusSkipped,
				SkipReason: reason,
			}
			results = append(results, result)
			status[spec.Name] = StatusSkipped
			r.progress(func(p ProgressReporter) { p.CaseEnd(result, i, total) })
			continue
		}

		r.progress(func(p ProgressReporter) { p.CaseStart(spec.Name, i, total) })
		audit.SetScope(suite.Name, spec.Name)
		result := r.RunCase(ctx, spec)
		results = append(results, result)
		status[spec.Name] = result.Status
		r.progress(func(p ProgressReporter) { p.CaseEnd(result, i, total) })
	}

	r.progress(func(p ProgressReporter) { p.SuiteEnd(results, r.now().Sub(start)) })
	return results, nil
}

// RunCase executes one case, repeating it when spec.Repeat > 1. Iterations
// stop at the first one that does not pass.
func (r *Runner) RunCase(ctx context.Context, spec CaseSpec) *CaseResult {
	result := &CaseResult{Name: spec.Name, Repeat: spec.Repeat}
	start := r.now()
	defer func() { result.Duration = r.now().Sub(start) }()

	repeat := max(spec.Repeat, 1)
	for iter := 1; iter <= repeat; iter++ {
		// Each iteration gets a fresh case: phases share state through it.
		c, err := checks.Lookup(spec.Name)
		if err != nil {
			result.Status = StatusError
			result.Message = err.Error()
			return result
		}
		iteration := 0
		if spec.Repeat > 1 {
			iteration = iter
			util.WithCase(spec.Name).Infof("Iteration %d/%d", iter, spec.Repeat)
		}

		status, msg := r.runOnce(ctx, c, r.Env.WithParams(spec.Params), result, iteration)
		result.Status, result.Message = status, msg
		if status == StatusSkipped {
			result.SkipReason = msg
		}
		if status != StatusPassed {
			if spec.Repeat > 1 && status != StatusSkipped {
				result.FailedIteration = iter
			}
			break
		}
	}
	return result
}

// runOnce drives the phases of one case instance and appends their results.
// Teardown runs whenever setup was attempted, on a context that survives
// cancellation of ctx so an interrupted run still restores the testbed.
func (r *Runner) runOnce(ctx context.Context, c *checks.Case, env *checks.Env, result *CaseResult, iteration int) (Status, string) {
	log := util.WithCase(c.Name)

	phase := func(p Phase, fn func() (string, error)) (Status, string) {
		start := r.now()
		msg, err := fn()
		status := classify(err)
		if err != nil {
			msg = err.Error()
			if reason, ok := checks.IsSkip(err); ok {
				msg = reason
			}
			switch status {
			case StatusSkipped:
				log.Infof("%s: skipped: %s", p, msg)
			case StatusFailed:
				log.Errorf("%s: %s", p, msg)
			default:
				log.Errorf("%s: %v", p, &CaseError{Case: c.Name, Phase: p, Err: err})
			}
		}
		pr := PhaseResult{
			Phase:     p,
			Status:    status,
			Duration:  r.now().Sub(start),
			Message:   msg,
			Iteration: iteration,
		}
		result.Phases = append(result.Phases, pr)
		r.progress(func(rep ProgressReporter) { rep.PhaseEnd(c.Name, &pr) })
		return status, msg
	}

	if status, msg := phase(PhasePrecondition, func() (string, error) {
		if err := r.checkTopology(c); err != nil {
			return "", err
		}
		if c.Precondition == nil {
			return "", nil
		}
		return "", c.Precondition(ctx, env)
	}); status != StatusPassed {
		return status, msg
	}

	status, msg := StatusPassed, ""
	if c.Setup != nil {
		status, msg = phase(PhaseSetup, func() (string, error) {
			return "", c.Setup(ctx, env)
		})
	}
	if status == StatusPassed && c.Run != nil {
		status, msg = phase(PhaseRun, func() (string, error) {
			return c.Run(ctx, env)
		})
	}
	if c.Teardown != nil {
		tctx := context.WithoutCancel(ctx)
		tstatus, tmsg := phase(PhaseTeardown, func() (string, error) {
			return "", c.Teardown(tctx, env)
		})
		if status == StatusPassed && tstatus != StatusPassed {
			status, msg = tstatus, tmsg
		}
	}
	return status, msg
}

// checkTopology skips a case whose topology markers do not match the
// testbed. Cases without markers run everywhere.
func (r *Runner) checkTopology(c *checks.Case) error {
	if len(c.Topologies) == 0 || r.Env.Testbed == nil {
		return nil
	}
	name := r.Env.Testbed.Topo.Name
	for _, t := range c.Topologies {
		if topologyMatches(t, name) {
			return nil
		}
	}
	return checks.Skipf("topology %s is not one of %s", name, strings.Join(c.Topologies, ", "))
}

// topologyMatches reports whether a marker selects a topology name. A
// marker matches the name itself or its type: the part before the first
// '-' ("t0-116" is t0). Dual-ToR topologies are of type t0.
func topologyMatches(marker, name string) bool {
	if marker == name || marker == "any" {
		return true
	}
	typ, _, _ := strings.Cut(name, "-")
	if marker == typ {
		return true
	}
	return marker == "t0" && strings.HasPrefix(name, "dualtor")
}

func (r *Runner) progress(fn func(ProgressReporter)) {
	if r.Progress != nil {
		fn(r.Progress)
	}
}

func (r *Runner) now() time.Time {
	if r.Env != nil && r.Env.Clock != nil {
		return r.Env.Clock.Now()
	}
	return time.Now()
}

// checkRequires returns a skip reason if any required case did not pass, or
// "" if all requirements are satisfied.
func checkRequires(spec CaseSpec, status map[string]Status) string {
	for _, req := range spec.Requires {
		st, ok := status[req]
		if !ok {
			return fmt.Sprintf("requires '%s' which has not run yet", req)
		}
		if st != StatusPassed {
			return fmt.Sprintf("requires '%s' which %s", req, statusVerb(st))
		}
	}
	return ""
}

// InfraResults marks every case of a suite as errored by err. It is used
// when the testbed cannot be reached at all.
func InfraResults(suite *Suite, err error) []*CaseResult {
	results := make([]*CaseResult, 0, len(suite.Cases))
	for _, spec := range suite.Cases {
		results = append(results, &CaseResult{
			Name:       spec.Name,
			Status:     StatusError,
			Message:    err.Error(),
			InfraError: err,
		})
	}
	return results
}

// Connections holds the live handles to a testbed.
type Connections struct {
	Hosts map[string]*device.Host
	PTF   *ptf.Adapter
}

// Connect opens every DUT of the testbed and the PTF host. On failure the
// handles opened so far are closed.
func Connect(ctx context.Context, tb *testbed.Testbed) (*Connections, error) {
	c := &Connections{Hosts: make(map[string]*device.Host)}
	for _, name := range tb.DUTNames() {
		d, err := tb.DUT(name)
		if err != nil {
			c.Close()
			return nil, &InfraError{Op: "connect", Device: name, Err: err}
		}
		h := device.NewHost(d)
		if err := h.Connect(ctx); err != nil {
			c.Close()
			return nil, &InfraError{Op: "connect", Device: name, Err: err}
		}
		c.Hosts[name] = h
	}
	adapter, err := ptf.Connect(ctx, tb.PTF)
	if err != nil {
		c.Close()
		return nil, &InfraError{Op: "connect", Device: "ptf", Err: err}
	}
	c.PTF = adapter
	return c, nil
}

// Env returns a case environment over the connections.
func (c *Connections) Env(tb *testbed.Testbed) *checks.Env {
	duts := make(map[string]checks.DUT, len(c.Hosts))
	for name, h := range c.Hosts {
		duts[name] = h
	}
	return checks.NewEnv(tb, duts, c.PTF)
}

// Close disconnects every handle.
func (c *Connections) Close() {
	for name, h := range c.Hosts {
		if err := h.Disconnect(); err != nil {
			util.WithDevice(name).Warnf("Disconnect: %v", err)
		}
	}
	if c.PTF != nil {
		c.PTF.Close()
	}
}
