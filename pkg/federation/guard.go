package federation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/escrowgrid/core/pkg/attestation"
)

// Guard evaluates CEL rules against an incoming envelope before signature
// verification. System rules apply to every envelope; deployments may add
// their own rules per peer type. Compiled programs are cached.
type Guard struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
	clock    func() time.Time

	systemRules []string
	extraRules  map[NodeType][]string
}

// NewGuard creates a Guard with the protocol's system rules.
func NewGuard() (*Guard, error) {
	env, err := cel.NewEnv(
		cel.Variable("envelope", cel.DynType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("federation: failed to create CEL environment: %w", err)
	}

	sysRules := []string{
		// A node never delivers to itself.
		`envelope.from_node_id != envelope.to_node_id`,
		// Every member attestation references an entity.
		`envelope.attestations.all(a, a.entity_fingerprint != "")`,
		// Every member carries both required identifiers.
		`envelope.attestations.all(a, a.attestation_id != "" && a.issuing_node_id != "")`,
	}

	return &Guard{
		env:         env,
		prgCache:    make(map[string]cel.Program),
		clock:       time.Now,
		systemRules: sysRules,
		extraRules:  make(map[NodeType][]string),
	}, nil
}

// WithClock overrides the clock for testing.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	g.clock = clock
	return g
}

// AddRule registers a deployment-specific rule for a peer type. The rule is
// compiled on first evaluation; a rule that does not compile fails every
// envelope it applies to.
func (g *Guard) AddRule(peerType NodeType, rule string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.extraRules[peerType] = append(g.extraRules[peerType], rule)
}

// Check evaluates all applicable rules. The first rule that fails or errors
// rejects the envelope.
func (g *Guard) Check(peerType NodeType, env attestation.InboxEnvelope) error {
	input := map[string]any{
		"timestamp": g.clock().Unix(),
		"envelope":  envelopeInput(env),
	}

	g.mu.RLock()
	rules := make([]string, 0, len(g.systemRules)+len(g.extraRules[peerType]))
	rules = append(rules, g.systemRules...)
	rules = append(rules, g.extraRules[peerType]...)
	g.mu.RUnlock()

	for i, rule := range rules {
		allowed, err := g.evaluateExpr(rule, input)
		if err != nil {
			return fmt.Errorf("federation: guard rule %d error: %w", i, err)
		}
		if !allowed {
			return fmt.Errorf("federation: guard rule %d denied envelope %s", i, env.EnvelopeID)
		}
	}
	return nil
}

func envelopeInput(env attestation.InboxEnvelope) map[string]any {
	atts := make([]any, 0, len(env.Attestations))
	for _, att := range env.Attestations {
		atts = append(atts, map[string]any{
			"attestation_id":     att.AttestationID,
			"issuing_node_id":    att.IssuingNodeID,
			"attestation_type":   string(att.AttestationType),
			"entity_fingerprint": att.EntityFingerprint,
			"payload":            att.Payload,
		})
	}
	return map[string]any{
		"envelope_id":  env.EnvelopeID,
		"from_node_id": env.FromNodeID,
		"to_node_id":   env.ToNodeID,
		"attestations": atts,
	}
}

func (g *Guard) evaluateExpr(expr string, input map[string]any) (bool, error) {
	g.mu.RLock()
	prg, hit := g.prgCache[expr]
	g.mu.RUnlock()

	if !hit {
		g.mu.Lock()
		// Double check
		if prg, hit = g.prgCache[expr]; !hit {
			ast, issues := g.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := g.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			g.prgCache[expr] = p
			prg = p
		}
		g.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
