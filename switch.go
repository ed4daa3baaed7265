package cortex

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
)

// SwitchState is the rollout stage of the new engine.
type SwitchState string

// Switch states, from fully legacy to fully migrated.
const (
	SwitchOff     SwitchState = "OFF"
	SwitchShadow  SwitchState = "SHADOW"
	SwitchCanary  SwitchState = "CANARY"
	SwitchRollout SwitchState = "ROLLOUT"
	SwitchFull    SwitchState = "FULL"
)

var (
	// ErrInvalidSwitchState is returned for a state outside the known set.
	ErrInvalidSwitchState = errors.New("invalid switch state")

	// ErrInvalidPercentage is returned for a percentage outside [0, 100].
	ErrInvalidPercentage = errors.New("switch percentage must be within 0..100")
)

// Valid reports whether s is a known state.
func (s SwitchState) Valid() bool {
	switch s {
	case SwitchOff, SwitchShadow, SwitchCanary, SwitchRollout, SwitchFull:
		return true
	}
	return false
}

// UnmarshalText accepts any letter case.
func (s *SwitchState) UnmarshalText(text []byte) error {
	v := SwitchState(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSwitchState, string(text))
	}
	*s = v
	return nil
}

// SwitchConfig is the routing policy for one scope (global or one task type).
type SwitchConfig struct {
	State      SwitchState `yaml:"state" json:"state"`
	Percentage int         `yaml:"percentage" json:"percentage"`
	Allowlist  []string    `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Blocklist  []string    `yaml:"blocklist,omitempty" json:"blocklist,omitempty"`
}

// Validate checks state and percentage.
func (c SwitchConfig) Validate() error {
	if !c.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSwitchState, c.State)
	}
	if c.Percentage < 0 || c.Percentage > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPercentage, c.Percentage)
	}
	return nil
}

// SwitchPolicy is the full switch configuration: a global scope plus
// optional per-task overrides. It doubles as the read model for dashboards.
type SwitchPolicy struct {
	Global SwitchConfig            `yaml:"global" json:"global"`
	Tasks  map[string]SwitchConfig `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

// Validate checks every scope.
func (p SwitchPolicy) Validate() error {
	if err := p.Global.Validate(); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	for task, c := range p.Tasks {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("task %s: %w", task, err)
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c SwitchConfig) Clone() SwitchConfig {
	c.Allowlist = append([]string(nil), c.Allowlist...)
	c.Blocklist = append([]string(nil), c.Blocklist...)
	return c
}

// Clone returns a deep copy of p.
func (p SwitchPolicy) Clone() SwitchPolicy {
	out := SwitchPolicy{Global: p.Global.Clone()}
	if p.Tasks != nil {
		out.Tasks = make(map[string]SwitchConfig, len(p.Tasks))
		for task, c := range p.Tasks {
			out.Tasks[task] = c.Clone()
		}
	}
	return out
}

// Decision is the outcome of one routing decision.
type Decision struct {
	// UseNewEngine reports whether the new engine serves the request.
	UseNewEngine bool

	// Shadow reports that the new engine should also run, with its result
	// discarded, while the legacy path serves.
	Shadow bool

	// Reason names the rule that decided: blocklist, allowlist, or the state.
	Reason string
}

// Decision reasons besides the state names.
const (
	ReasonBlocklist = "blocklist"
	ReasonAllowlist = "allowlist"
)

// Route labels used on SwitchDecided signals.
const (
	RouteNew    = "new"
	RouteLegacy = "legacy"
)

// scope is the compiled, immutable form of a SwitchConfig.
type scope struct {
	state      SwitchState
	percentage int
	allow      map[string]struct{}
	block      map[string]struct{}
}

func compile(c SwitchConfig) *scope {
	s := &scope{
		state:      c.State,
		percentage: c.Percentage,
		allow:      make(map[string]struct{}, len(c.Allowlist)),
		block:      make(map[string]struct{}, len(c.Blocklist)),
	}
	for _, t := range c.Allowlist {
		s.allow[t] = struct{}{}
	}
	for _, t := range c.Blocklist {
		s.block[t] = struct{}{}
	}
	return s
}

func (s *scope) config() SwitchConfig {
	return SwitchConfig{
		State:      s.state,
		Percentage: s.percentage,
		Allowlist:  setKeys(s.allow),
		Blocklist:  setKeys(s.block),
	}
}

func (s *scope) clone() *scope {
	return compile(s.config())
}

func setKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// snapshot is one immutable version of the switch policy.
type snapshot struct {
	global *scope
	tasks  map[string]*scope
}

func (s *snapshot) policy() SwitchPolicy {
	p := SwitchPolicy{Global: s.global.config()}
	if len(s.tasks) > 0 {
		p.Tasks = make(map[string]SwitchConfig, len(s.tasks))
		for task, sc := range s.tasks {
			p.Tasks[task] = sc.config()
		}
	}
	return p
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{global: s.global.clone(), tasks: make(map[string]*scope, len(s.tasks))}
	for task, sc := range s.tasks {
		next.tasks[task] = sc.clone()
	}
	return next
}

func snapshotOf(p SwitchPolicy) *snapshot {
	s := &snapshot{global: compile(p.Global), tasks: make(map[string]*scope, len(p.Tasks))}
	for task, c := range p.Tasks {
		s.tasks[task] = compile(c)
	}
	return s
}

// TrafficSwitch decides, per tenant and task type, whether a request goes to
// the new engine or the legacy path.
//
// Reads never lock: Decide loads the current immutable snapshot. Writers
// serialize on a mutex, copy the snapshot, modify the copy and swap it in.
type TrafficSwitch struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex
}

// NewTrafficSwitch creates a switch with every request routed to legacy.
func NewTrafficSwitch() *TrafficSwitch {
	ts := &TrafficSwitch{}
	ts.current.Store(snapshotOf(SwitchPolicy{Global: SwitchConfig{State: SwitchOff}}))
	return ts
}

// NewTrafficSwitchFromPolicy creates a switch from a loaded policy.
func NewTrafficSwitchFromPolicy(p SwitchPolicy) (*TrafficSwitch, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ts := &TrafficSwitch{}
	ts.current.Store(snapshotOf(p))
	return ts, nil
}

// Decide routes one request. Precedence: blocklist, allowlist, then the
// task's state (or the global state when the task has no override).
// Lists are consulted at both the global and the task scope.
func (ts *TrafficSwitch) Decide(tenantID, taskType string) Decision {
	snap := ts.current.Load()
	sc := snap.global
	task, hasTask := snap.tasks[taskType]
	if hasTask {
		sc = task
	}

	var d Decision
	switch {
	case inSet(snap.global.block, tenantID) || (hasTask && inSet(task.block, tenantID)):
		d = Decision{Reason: ReasonBlocklist}
	case inSet(snap.global.allow, tenantID) || (hasTask && inSet(task.allow, tenantID)):
		d = Decision{UseNewEngine: true, Reason: ReasonAllowlist}
	default:
		d = decideState(sc, tenantID, taskType)
	}

	route := RouteLegacy
	if d.UseNewEngine {
		route = RouteNew
	}
	capitan.Emit(context.Background(), SwitchDecided,
		FieldTenantID.Field(tenantID),
		FieldTaskType.Field(taskType),
		FieldSwitchMode.Field(string(sc.state)),
		FieldRoute.Field(route),
		FieldReason.Field(d.Reason),
	)
	return d
}

// ShouldUseNewEngine reports whether the request goes to the new engine.
func (ts *TrafficSwitch) ShouldUseNewEngine(tenantID, taskType string) bool {
	return ts.Decide(tenantID, taskType).UseNewEngine
}

func decideState(sc *scope, tenantID, taskType string) Decision {
	reason := string(sc.state)
	switch sc.state {
	case SwitchFull:
		return Decision{UseNewEngine: true, Reason: reason}
	case SwitchShadow:
		return Decision{Shadow: true, Reason: reason}
	case SwitchCanary, SwitchRollout:
		return Decision{UseNewEngine: Bucket(tenantID, taskType) < sc.percentage, Reason: reason}
	default:
		return Decision{Reason: reason}
	}
}

// Bucket maps a tenant and task type to a stable bucket in [0, 100).
// A tenant admitted at percentage p stays admitted at every p' > p.
func Bucket(tenantID, taskType string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskType))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(tenantID))
	return int(h.Sum32() % 100)
}

func inSet(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// SetGlobalState sets the global state and percentage.
func (ts *TrafficSwitch) SetGlobalState(state SwitchState, percentage int) error {
	if err := (SwitchConfig{State: state, Percentage: percentage}).Validate(); err != nil {
		return err
	}
	ts.update(func(s *snapshot) {
		s.global.state = state
		s.global.percentage = percentage
	})
	capitan.Emit(context.Background(), SwitchUpdated,
		FieldSwitchMode.Field(string(state)),
		FieldPercentage.Field(percentage),
	)
	return nil
}

// SetTaskState sets an override for one task type.
func (ts *TrafficSwitch) SetTaskState(taskType string, state SwitchState, percentage int) error {
	if err := (SwitchConfig{State: state, Percentage: percentage}).Validate(); err != nil {
		return err
	}
	ts.update(func(s *snapshot) {
		sc, ok := s.tasks[taskType]
		if !ok {
			sc = compile(SwitchConfig{})
			s.tasks[taskType] = sc
		}
		sc.state = state
		sc.percentage = percentage
	})
	capitan.Emit(context.Background(), SwitchUpdated,
		FieldTaskType.Field(taskType),
		FieldSwitchMode.Field(string(state)),
		FieldPercentage.Field(percentage),
	)
	return nil
}

// ClearTaskState removes a task override so the task follows the global state.
func (ts *TrafficSwitch) ClearTaskState(taskType string) {
	ts.update(func(s *snapshot) {
		delete(s.tasks, taskType)
	})
	capitan.Emit(context.Background(), SwitchUpdated,
		FieldTaskType.Field(taskType),
		FieldReason.Field("cleared"),
	)
}

// Allowlist returns the global allowlist.
func (ts *TrafficSwitch) Allowlist() *TenantList {
	return &TenantList{ts: ts, name: ReasonAllowlist, pick: func(sc *scope) map[string]struct{} { return sc.allow }}
}

// Blocklist returns the global blocklist.
func (ts *TrafficSwitch) Blocklist() *TenantList {
	return &TenantList{ts: ts, name: ReasonBlocklist, pick: func(sc *scope) map[string]struct{} { return sc.block }}
}

// GetStatus returns a copy of the current policy.
func (ts *TrafficSwitch) GetStatus() SwitchPolicy {
	return ts.current.Load().policy()
}

// Replace swaps in a whole policy.
func (ts *TrafficSwitch) Replace(p SwitchPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ts.mu.Lock()
	ts.current.Store(snapshotOf(p))
	ts.mu.Unlock()
	return nil
}

// Refresh loads the policy from store and swaps it in. A nil policy from
// the store leaves the switch unchanged.
func (ts *TrafficSwitch) Refresh(ctx context.Context, store ConfigStore) error {
	p, err := store.LoadSwitchPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load switch policy: %w", err)
	}
	if p == nil {
		return nil
	}
	if err := ts.Replace(*p); err != nil {
		return err
	}
	capitan.Emit(ctx, SwitchRefreshed,
		FieldSwitchMode.Field(string(p.Global.State)),
		FieldPercentage.Field(p.Global.Percentage),
	)
	return nil
}

// Watch refreshes from store every interval until ctx is done. A
// non-positive interval uses DefaultSwitchRefreshInterval. Refresh failures
// keep the last good policy and are reported on SwitchRefreshFailed.
func (ts *TrafficSwitch) Watch(ctx context.Context, store ConfigStore, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSwitchRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ts.Refresh(ctx, store); err != nil {
				capitan.Error(ctx, SwitchRefreshFailed, FieldError.Field(err))
			}
		}
	}
}

func (ts *TrafficSwitch) update(fn func(*snapshot)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	next := ts.current.Load().clone()
	fn(next)
	ts.current.Store(next)
}

// TenantList edits one of the switch's global tenant lists.
type TenantList struct {
	ts   *TrafficSwitch
	name string
	pick func(*scope) map[string]struct{}
}

// Add puts tenants on the list.
func (l *TenantList) Add(tenantIDs ...string) {
	l.ts.update(func(s *snapshot) {
		set := l.pick(s.global)
		for _, t := range tenantIDs {
			set[t] = struct{}{}
		}
	})
	l.emit("add", tenantIDs)
}

// Remove takes tenants off the list.
func (l *TenantList) Remove(tenantIDs ...string) {
	l.ts.update(func(s *snapshot) {
		set := l.pick(s.global)
		for _, t := range tenantIDs {
			delete(set, t)
		}
	})
	l.emit("remove", tenantIDs)
}

// Contains reports whether tenantID is on the list.
func (l *TenantList) Contains(tenantID string) bool {
	return inSet(l.pick(l.ts.current.Load().global), tenantID)
}

// Members returns the list's tenants, sorted.
func (l *TenantList) Members() []string {
	return setKeys(l.pick(l.ts.current.Load().global))
}

func (l *TenantList) emit(op string, tenantIDs []string) {
	for _, t := range tenantIDs {
		capitan.Emit(context.Background(), SwitchUpdated,
			FieldTenantID.Field(t),
			FieldReason.Field(l.name+"."+op),
		)
	}
}

var defaultSwitch atomic.Pointer[TrafficSwitch]

func init() {
	ResetSwitch()
}

// DefaultSwitch returns the process-wide switch.
func DefaultSwitch() *TrafficSwitch {
	return defaultSwitch.Load()
}

// InitSwitch installs a process-wide switch built from p.
func InitSwitch(p SwitchPolicy) error {
	ts, err := NewTrafficSwitchFromPolicy(p)
	if err != nil {
		return err
	}
	defaultSwitch.Store(ts)
	return nil
}

// ResetSwitch installs a fresh process-wide switch with everything OFF.
func ResetSwitch() {
	defaultSwitch.Store(NewTrafficSwitch())
}
