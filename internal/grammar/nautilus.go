package grammar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strings"
)

// DefaultMaxDepth bounds the height of derivation trees.
const DefaultMaxDepth = 256

// DefaultMaxNodes bounds the number of rule applications in one derivation.
// Depth alone does not bound size: a nonterminal with several branching
// recursive rules grows exponentially with depth.
const DefaultMaxNodes = 256

type part struct {
	literal     []byte
	nonterminal string
}

type Rule struct {
	LHS    string
	parts  []part
	depth  int // minimal depth of any derivation starting with this rule
	minLen int // minimal node count of any derivation starting with this rule
}

// Node is one rule application in a derivation tree.
type Node struct {
	Rule     *Rule
	Children []*Node
}

// Unparse writes the derived text.
func (n *Node) Unparse(buf *bytes.Buffer) {
	child := 0
	for _, p := range n.Rule.parts {
		if p.nonterminal == "" {
			buf.Write(p.literal)
			continue
		}
		n.Children[child].Unparse(buf)
		child++
	}
}

// Size is the number of nodes in the tree.
func (n *Node) Size() int {
	s := 1
	for _, c := range n.Children {
		s += c.Size()
	}
	return s
}

// Depth is the height of the tree.
func (n *Node) Depth() int {
	d := 0
	for _, c := range n.Children {
		d = max(d, c.Depth())
	}
	return d + 1
}

// Nautilus generates derivation trees from a rule list in the Nautilus JSON
// format: [["LHS", "text with {NONTERMINAL} references"], ...]. Braces that
// are part of the text are escaped as \{ and \}.
type Nautilus struct {
	rules    map[string][]*Rule
	names    []string // nonterminals in definition order
	start    string
	minDepth map[string]int
	minLen   map[string]int
	maxDepth int
	maxNodes int
	rand     *rand.Rand
}

func LoadNautilus(path string, maxDepth int, seed uint64) (*Nautilus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read grammar: %w", err)
	}
	return ParseNautilus(data, maxDepth, seed)
}

func ParseNautilus(data []byte, maxDepth int, seed uint64) (*Nautilus, error) {
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrammar, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrInvalidGrammar)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	n := &Nautilus{
		rules:    make(map[string][]*Rule),
		maxDepth: maxDepth,
		maxNodes: DefaultMaxNodes,
		rand:     rand.New(rand.NewPCG(seed, seed+1)),
	}
	for i, r := range raw {
		if len(r) != 2 || r[0] == "" {
			return nil, fmt.Errorf("%w: rule %d must be [lhs, rhs]", ErrInvalidGrammar, i)
		}
		parts, err := parseRHS(r[1])
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidGrammar, i, err)
		}
		if _, seen := n.rules[r[0]]; !seen {
			n.names = append(n.names, r[0])
		}
		n.rules[r[0]] = append(n.rules[r[0]], &Rule{LHS: r[0], parts: parts})
		if i == 0 {
			n.start = r[0]
		}
	}
	if _, ok := n.rules["START"]; ok {
		n.start = "START"
	}
	if err := n.computeDepths(); err != nil {
		return nil, err
	}
	if n.minDepth[n.start] > maxDepth {
		return nil, fmt.Errorf("%w: %s needs depth %d, limit is %d", ErrInvalidGrammar, n.start, n.minDepth[n.start], maxDepth)
	}
	return n, nil
}

func parseRHS(rhs string) ([]part, error) {
	var parts []part
	var lit []byte
	flush := func() {
		if len(lit) > 0 {
			parts = append(parts, part{literal: lit})
			lit = nil
		}
	}
	for i := 0; i < len(rhs); i++ {
		switch c := rhs[i]; {
		case c == '\\' && i+1 < len(rhs) && (rhs[i+1] == '{' || rhs[i+1] == '}'):
			lit = append(lit, rhs[i+1])
			i++
		case c == '{':
			end := strings.IndexByte(rhs[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated reference in %q", rhs)
			}
			name := rhs[i+1 : i+1+end]
			if name == "" {
				return nil, fmt.Errorf("empty reference in %q", rhs)
			}
			flush()
			parts = append(parts, part{nonterminal: name})
			i += end + 1
		default:
			lit = append(lit, c)
		}
	}
	flush()
	return parts, nil
}

// computeDepths finds the minimal derivation depth and size of every
// nonterminal by fixpoint iteration.
func (n *Nautilus) computeDepths() error {
	for lhs, rules := range n.rules {
		for _, r := range rules {
			for _, p := range r.parts {
				if p.nonterminal != "" {
					if _, ok := n.rules[p.nonterminal]; !ok {
						return fmt.Errorf("%w: %s references undefined %s", ErrInvalidGrammar, lhs, p.nonterminal)
					}
				}
			}
		}
	}

	n.minDepth = make(map[string]int, len(n.rules))
	n.minLen = make(map[string]int, len(n.rules))
	for lhs := range n.rules {
		n.minDepth[lhs] = math.MaxInt
		n.minLen[lhs] = math.MaxInt
	}
	for changed := true; changed; {
		changed = false
		for lhs, rules := range n.rules {
			for _, r := range rules {
				r.depth = n.ruleDepth(r)
				r.minLen = n.ruleLen(r)
				if r.depth < n.minDepth[lhs] {
					n.minDepth[lhs] = r.depth
					changed = true
				}
				if r.minLen < n.minLen[lhs] {
					n.minLen[lhs] = r.minLen
					changed = true
				}
			}
		}
	}
	for lhs, d := range n.minDepth {
		if d == math.MaxInt {
			return fmt.Errorf("%w: %s never terminates", ErrInvalidGrammar, lhs)
		}
	}
	return nil
}

func (n *Nautilus) ruleDepth(r *Rule) int {
	d := 0
	for _, p := range r.parts {
		if p.nonterminal == "" {
			continue
		}
		child := n.minDepth[p.nonterminal]
		if child == math.MaxInt {
			return math.MaxInt
		}
		d = max(d, child)
	}
	return d + 1
}

func (n *Nautilus) ruleLen(r *Rule) int {
	l := 1
	for _, p := range r.parts {
		if p.nonterminal == "" {
			continue
		}
		child := n.minLen[p.nonterminal]
		if child == math.MaxInt || l > math.MaxInt-child {
			return math.MaxInt
		}
		l += child
	}
	return l
}

func (n *Nautilus) Start() string {
	return n.start
}

// GenerateTree derives a random tree for nonterminal nt. The tree has at
// most DefaultMaxNodes nodes (or the minimum nt needs, if larger) and stays
// within the depth limit.
func (n *Nautilus) GenerateTree(nt string) *Node {
	nodes := n.minLen[nt]
	if slack := n.maxNodes - nodes; slack > 0 {
		nodes += n.rand.IntN(slack + 1)
	}
	node, _ := n.derive(nt, nodes, n.maxDepth)
	return node
}

// pickRule chooses uniformly among the rules of nt that fit both budgets.
// When none does, the depth limit wins and the smallest rule within it is
// taken.
func (n *Nautilus) pickRule(nt string, nodes, depth int) *Rule {
	rules := n.rules[nt]
	var fitting []*Rule
	for _, r := range rules {
		if r.minLen <= nodes && r.depth <= depth {
			fitting = append(fitting, r)
		}
	}
	if len(fitting) > 0 {
		return fitting[n.rand.IntN(len(fitting))]
	}

	var best *Rule
	for _, r := range rules {
		if r.depth > depth {
			continue
		}
		if best == nil || r.minLen < best.minLen {
			best = r
		}
	}
	if best != nil {
		return best
	}
	// cannot happen for budgets that admit nt, take the shallowest rule
	best = rules[0]
	for _, r := range rules[1:] {
		if r.depth < best.depth {
			best = r
		}
	}
	return best
}

// derive returns a tree for nt and its size. The node budget left after the
// rule is split randomly across the children, each child always getting at
// least its own minimum.
func (n *Nautilus) derive(nt string, nodes, depth int) (*Node, int) {
	rule := n.pickRule(nt, nodes, depth)
	node := &Node{Rule: rule}

	var children []string
	for _, p := range rule.parts {
		if p.nonterminal != "" {
			children = append(children, p.nonterminal)
		}
	}
	reserve := rule.minLen - 1
	avail := nodes - 1
	size := 1
	for i, c := range children {
		need := n.minLen[c]
		reserve -= need
		budget := need
		if slack := avail - reserve - need; slack > 0 {
			if i == len(children)-1 {
				budget += slack
			} else {
				budget += n.rand.IntN(slack + 1)
			}
		}
		child, used := n.derive(c, budget, depth-1)
		node.Children = append(node.Children, child)
		avail -= used
		size += used
	}
	return node, size
}

func (n *Nautilus) Generate(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	n.GenerateTree(n.start).Unparse(&buf)
	return buf.Bytes(), nil
}

// Mutate replaces a random slice of input with a fresh derivation of a random
// nonterminal.
func (n *Nautilus) Mutate(ctx context.Context, input []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nt := n.names[n.rand.IntN(len(n.names))]

	var fragment bytes.Buffer
	n.GenerateTree(nt).Unparse(&fragment)

	from := n.rand.IntN(len(input) + 1)
	to := from + n.rand.IntN(len(input)-from+1)
	out := make([]byte, 0, len(input)-(to-from)+fragment.Len())
	out = append(out, input[:from]...)
	out = append(out, fragment.Bytes()...)
	return append(out, input[to:]...), nil
}
