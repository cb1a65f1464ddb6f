// Package permissions decides whether a tool call may run. Each call is
// assigned a risk level from the tool's declared base risk plus argument
// inspection, then compared against the session's trust mode. Calls that
// need a human go through a Responder; "always allow" grants are scoped
// to the session and keyed by tool name and risk level.
package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vellum-dev/vellum/pkg/models"
)

// RiskLevel classifies how dangerous a tool call is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels for comparison and escalation.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 1
	}
}

// Max returns the higher of two risk levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

// TrustMode is the session-wide approval posture.
type TrustMode string

const (
	// TrustAsk prompts on every tool call.
	TrustAsk TrustMode = "ask"

	// TrustAuto approves low and medium risk, prompts on high and critical.
	TrustAuto TrustMode = "auto"

	// TrustFull approves everything except critical.
	TrustFull TrustMode = "full"
)

// Capability buckets tools into the policy knobs users configure.
type Capability string

const (
	CapabilityFileRead      Capability = "fileRead"
	CapabilityFileWrite     Capability = "fileWrite"
	CapabilityShellExecute  Capability = "shellExecute"
	CapabilityNetworkAccess Capability = "networkAccess"
)

// CapabilityPolicy is the per-capability override: ask forces a prompt,
// auto approves, never denies outright.
type CapabilityPolicy string

const (
	PolicyAsk   CapabilityPolicy = "ask"
	PolicyAuto  CapabilityPolicy = "auto"
	PolicyNever CapabilityPolicy = "never"
)

// Inspector escalates risk from the call's arguments. Inspectors only
// raise risk, never lower it.
type Inspector func(args json.RawMessage) RiskLevel

// ToolProfile declares how the engine treats one tool.
type ToolProfile struct {
	// BaseRisk is the floor for every call of this tool.
	BaseRisk RiskLevel

	// Capability routes the tool through the matching policy knob.
	Capability Capability

	// Inspect optionally escalates risk from arguments.
	Inspect Inspector
}

// Decision is the engine's verdict for a single call.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// Request is what a Responder is asked to resolve.
type Request struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	Risk      RiskLevel       `json:"risk"`
	CreatedAt time.Time       `json:"created_at"`
}

// Response carries the human's (or policy's) answer.
type Response struct {
	Approved bool

	// AlwaysAllow additionally grants this (tool, risk) pair for the
	// rest of the session.
	AlwaysAllow bool
}

// Responder resolves interactive permission prompts. The TUI implements
// this; non-interactive runs plug in a fixed policy. A context error
// resolves the prompt as rejected.
type Responder interface {
	Respond(ctx context.Context, req *Request) (*Response, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ResponderFunc) Respond(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// DenyAll is the responder used when nothing interactive is attached.
var DenyAll = ResponderFunc(func(_ context.Context, _ *Request) (*Response, error) {
	return &Response{Approved: false}, nil
})

// Outcome reports how a call was resolved, for lifecycle events.
type Outcome struct {
	Decision Decision
	Risk     RiskLevel

	// Prompted is true when a Responder was consulted.
	Prompted bool

	// Reason explains denials.
	Reason string
}

// Engine evaluates tool calls for one session.
type Engine struct {
	mu        sync.Mutex
	mode      TrustMode
	sessionID string
	responder Responder
	profiles  map[string]ToolProfile
	policies  map[Capability]CapabilityPolicy

	// alwaysAllow records session-scoped grants keyed by tool and risk.
	alwaysAllow map[grantKey]bool

	// promptHook, when set, observes each request just before the
	// responder is consulted. The agent loop uses it to announce pending
	// prompts on its lifecycle channel.
	promptHook func(*Request)
}

type grantKey struct {
	tool string
	risk RiskLevel
}

// NewEngine creates an engine in the given trust mode. A nil responder
// denies every prompt.
func NewEngine(sessionID string, mode TrustMode, responder Responder) *Engine {
	if responder == nil {
		responder = DenyAll
	}
	switch mode {
	case TrustAsk, TrustAuto, TrustFull:
	default:
		mode = TrustAsk
	}
	return &Engine{
		mode:        mode,
		sessionID:   sessionID,
		responder:   responder,
		profiles:    make(map[string]ToolProfile),
		policies:    make(map[Capability]CapabilityPolicy),
		alwaysAllow: make(map[grantKey]bool),
	}
}

// RegisterProfile declares the risk profile for a tool. Unregistered
// tools are treated as medium risk with no capability policy.
func (e *Engine) RegisterProfile(toolName string, profile ToolProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles[toolName] = profile
}

// SetPolicy sets the override for a capability bucket.
func (e *Engine) SetPolicy(cap Capability, policy CapabilityPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[cap] = policy
}

// SetMode changes the trust mode for subsequent evaluations.
func (e *Engine) SetMode(mode TrustMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// Mode returns the current trust mode.
func (e *Engine) Mode() TrustMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// OnPrompt registers a hook observing requests about to be prompted.
func (e *Engine) OnPrompt(fn func(*Request)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promptHook = fn
}

// ComputeRisk resolves the effective risk for a call: declared base risk
// escalated by argument inspection.
func (e *Engine) ComputeRisk(call models.ToolCall) RiskLevel {
	e.mu.Lock()
	profile, ok := e.profiles[call.Name]
	e.mu.Unlock()
	if !ok {
		return RiskMedium
	}

	risk := profile.BaseRisk
	if risk == "" {
		risk = RiskMedium
	}
	if profile.Inspect != nil {
		risk = risk.Max(profile.Inspect(call.Arguments))
	}
	return risk
}

// Evaluate resolves a tool call to allowed or denied, prompting through
// the responder when the trust mode requires it. Context cancellation
// while a prompt is outstanding resolves as denied.
func (e *Engine) Evaluate(ctx context.Context, call models.ToolCall) (*Outcome, error) {
	risk := e.ComputeRisk(call)

	e.mu.Lock()
	mode := e.mode
	profile := e.profiles[call.Name]
	policy, hasPolicy := e.policies[profile.Capability]
	granted := e.alwaysAllow[grantKey{tool: call.Name, risk: risk}]
	e.mu.Unlock()

	if hasPolicy && policy == PolicyNever {
		return &Outcome{
			Decision: DecisionDenied,
			Risk:     risk,
			Reason:   fmt.Sprintf("%s is disabled by policy", profile.Capability),
		}, nil
	}

	if granted {
		return &Outcome{Decision: DecisionAllowed, Risk: risk}, nil
	}

	prompt := e.needsPrompt(mode, risk)
	if hasPolicy {
		switch policy {
		case PolicyAsk:
			prompt = true
		case PolicyAuto:
			// Policy auto-approval still defers to the trust mode for
			// critical calls.
			if risk != RiskCritical {
				prompt = false
			}
		}
	}

	if !prompt {
		return &Outcome{Decision: DecisionAllowed, Risk: risk}, nil
	}

	req := &Request{
		ID:        uuid.NewString(),
		SessionID: e.sessionID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Risk:      risk,
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	hook := e.promptHook
	e.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	resp, err := e.responder.Respond(ctx, req)
	if err != nil || ctx.Err() != nil {
		return &Outcome{
			Decision: DecisionDenied,
			Risk:     risk,
			Prompted: true,
			Reason:   "permission prompt canceled",
		}, nil
	}

	if !resp.Approved {
		return &Outcome{
			Decision: DecisionDenied,
			Risk:     risk,
			Prompted: true,
			Reason:   "denied by user",
		}, nil
	}

	if resp.AlwaysAllow {
		e.mu.Lock()
		e.alwaysAllow[grantKey{tool: call.Name, risk: risk}] = true
		e.mu.Unlock()
	}

	return &Outcome{Decision: DecisionAllowed, Risk: risk, Prompted: true}, nil
}

// needsPrompt applies the trust mode table.
func (e *Engine) needsPrompt(mode TrustMode, risk RiskLevel) bool {
	switch mode {
	case TrustFull:
		return risk == RiskCritical
	case TrustAuto:
		return risk.rank() >= RiskHigh.rank()
	default:
		return true
	}
}
